package http

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samsamfire/gocanwrap/pkg/gateway"
)

type GatewayResponse interface {
	GetError() error
}

// HTTP response base
type GatewayResponseBase struct {
	// Status code, 0 on success
	Code int32 `json:"code"`
	// Response, can be "OK", or "ERROR:x"
	Response    string `json:"response"`
	Description string `json:"description,omitempty"`
}

func NewResponseError(err error) []byte {
	gwErr := fromError(err)
	jData, _ := json.Marshal(GatewayResponseBase{
		Code:        gwErr.Code,
		Response:    gwErr.Error(),
		Description: gwErr.Description(),
	})
	return jData
}

func NewResponseSuccess() []byte {
	jData, _ := json.Marshal(GatewayResponseBase{Response: "OK"})
	return jData
}

// Extract error if any inside of reponse, warnings are errors too
func (resp *GatewayResponseBase) GetError() error {
	if resp.Code == 0 && !strings.HasPrefix(resp.Response, "ERROR:") {
		return nil
	}
	if resp.Code == 0 {
		return fmt.Errorf("error decoding error field (%v)", resp.Response)
	}
	return NewGatewayError(resp.Code)
}

// JSON representation of a frame
type Frame struct {
	ID          string `json:"id"`             // Hex or decimal identifier
	Type        string `json:"type,omitempty"` // CAN, RTR, FD, FD-BRS or numeric value
	Extended    bool   `json:"extended,omitempty"`
	Transmitted bool   `json:"transmitted,omitempty"`
	Timestamp   uint64 `json:"timestamp,omitempty"`
	Data        string `json:"data,omitempty"` // Hex encoded payload
}

type ChannelInfo struct {
	Name        string `json:"name"`
	Interface   string `json:"interface"`
	Device      string `json:"device"`
	Serial      string `json:"serial,omitempty"`
	Index       int    `json:"index"`
	Description string `json:"description,omitempty"`
}

type ChannelsResponse struct {
	*GatewayResponseBase
	Channels []ChannelInfo `json:"channels"`
}

type OpenRequest struct {
	Type string `json:"type"` // can, canfd, canfd-brs, canfd-non-iso or numeric value
	Mode string `json:"mode"` // normal, listen-only, loopback or numeric value
}

type SendRequest struct {
	Frames  []Frame `json:"frames"`
	Timeout int32   `json:"timeout"`
}

type SendResponse struct {
	*GatewayResponseBase
	Sent int `json:"sent"`
}

type MessagesResponse struct {
	*GatewayResponseBase
	Frames []Frame `json:"frames"`
}

// Pending settings update, missing values are left unchanged
type SettingsRequest struct {
	Bitrate        *uint64          `json:"bitrate,omitempty"`
	FDBitrate      *uint64          `json:"fd_bitrate,omitempty"`
	CustomBitrate  *string          `json:"custom_bitrate,omitempty"`
	Termination    *bool            `json:"termination,omitempty"`
	Echo           *bool            `json:"echo,omitempty"`
	BusErrorReport *bool            `json:"bus_error_report,omitempty"`
	TxMode         *string          `json:"tx_mode,omitempty"`
	TxTiming       map[string]int32 `json:"tx_timing,omitempty"` // id -> ms
}

type SettingsResponse struct {
	*GatewayResponseBase
	Bitrate        uint64           `json:"bitrate"`
	FDBitrate      uint64           `json:"fd_bitrate"`
	CustomBitrate  string           `json:"custom_bitrate"`
	Termination    bool             `json:"termination"`
	Echo           bool             `json:"echo"`
	BusErrorReport bool             `json:"bus_error_report"`
	TxMode         string           `json:"tx_mode"`
	TxTiming       map[string]int32 `json:"tx_timing,omitempty"`
}

type ApplyRequest struct {
	Temporary bool `json:"temporary"`
}

type BlinkRequest struct {
	Enabled bool `json:"enabled"`
}

type VersionInfo struct {
	*GatewayResponseBase
	*gateway.GatewayVersion
}
