package http

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	canwrap "github.com/samsamfire/gocanwrap"
	log "github.com/sirupsen/logrus"
)

// HTTP request to the server
type GatewayRequest struct {
	method  string
	channel string // empty for requests that don't target a channel
	command string // command can be composed of different parts
	raw     *http.Request
}

// Create a new sanitized api request object from raw http request
func NewGatewayRequestFromRaw(r *http.Request) (*GatewayRequest, error) {
	if r.URL.Path == "/channels" || r.URL.Path == "/version" {
		return &GatewayRequest{method: r.Method, command: strings.TrimPrefix(r.URL.Path, "/"), raw: r}, nil
	}
	// Channel names may contain escaped slashes e.g. serial ports
	match := regURI.FindStringSubmatch(r.URL.EscapedPath())
	if len(match) != 3 {
		log.Errorf("[HTTP][SERVER] request %v does not match a known API pattern", r.URL.Path)
		return nil, ErrGwSyntaxError
	}
	name, err := url.PathUnescape(match[1])
	if err != nil {
		return nil, ErrGwSyntaxError
	}
	return &GatewayRequest{
		method:  r.Method,
		channel: name,
		command: match[2],
		raw:     r,
	}, nil
}

// Route key of a request e.g. "POST open"
func (req *GatewayRequest) route() string {
	return req.method + " " + req.command
}

// Parse an integer enum given either by name or by value
func parseEnum(value string, names map[string]int64) (int64, error) {
	if n, ok := names[strings.ToLower(value)]; ok {
		return n, nil
	}
	// This automatically treats 0x,0X,...
	n, err := strconv.ParseInt(value, 0, 32)
	if err != nil {
		return 0, ErrGwSyntaxError
	}
	return n, nil
}

func parseOpenType(value string) (canwrap.OpenType, error) {
	if value == "" {
		return canwrap.OpenCAN, nil
	}
	n, err := parseEnum(value, map[string]int64{
		"can":           int64(canwrap.OpenCAN),
		"canfd":         int64(canwrap.OpenFD),
		"canfd-brs":     int64(canwrap.OpenFDBRS),
		"canfd-non-iso": int64(canwrap.OpenFDNonISO),
	})
	return canwrap.OpenType(n), err
}

func parseOpenMode(value string) (canwrap.OpenMode, error) {
	if value == "" {
		return canwrap.ModeNormal, nil
	}
	n, err := parseEnum(value, map[string]int64{
		"normal":      int64(canwrap.ModeNormal),
		"listen-only": int64(canwrap.ModeListenOnly),
		"loopback":    int64(canwrap.ModeLoopback),
	})
	return canwrap.OpenMode(n), err
}

func parseTxMode(value string) (canwrap.TxMode, error) {
	n, err := parseEnum(value, map[string]int64{
		"normal":    int64(canwrap.TxNormal),
		"auto-send": int64(canwrap.TxAutoSend),
		"queue":     int64(canwrap.TxQueue),
	})
	if err != nil || n < 0 || n > 0xFF {
		return 0, ErrGwSyntaxError
	}
	return canwrap.TxMode(n), nil
}

func parseMessageType(value string) (canwrap.MessageType, error) {
	if value == "" {
		return canwrap.Classic, nil
	}
	n, err := parseEnum(value, map[string]int64{
		"can":    int64(canwrap.Classic),
		"rtr":    int64(canwrap.Remote),
		"fd":     int64(canwrap.FD),
		"fd-brs": int64(canwrap.FDBRS),
	})
	if err != nil || n < 0 || n > 0xFF {
		return 0, ErrGwSyntaxError
	}
	return canwrap.MessageType(n), nil
}

func parseID(value string) (uint32, error) {
	id, err := strconv.ParseUint(value, 0, 32)
	if err != nil {
		return 0, ErrGwSyntaxError
	}
	return uint32(id), nil
}

// Decode a JSON frame
func parseFrame(f Frame) (canwrap.Frame, error) {
	id, err := parseID(f.ID)
	if err != nil {
		return canwrap.Frame{}, err
	}
	typ, err := parseMessageType(f.Type)
	if err != nil {
		return canwrap.Frame{}, err
	}
	data, err := hex.DecodeString(strings.ReplaceAll(f.Data, " ", ""))
	if err != nil || len(data) > canwrap.MaxFDDataLen {
		return canwrap.Frame{}, ErrGwSyntaxError
	}
	return canwrap.NewFrame(id, typ, f.Extended, data), nil
}

// Encode a frame to JSON representation
func formatFrame(frame canwrap.Frame) Frame {
	return Frame{
		ID:          fmt.Sprintf("0x%x", frame.ID),
		Type:        frame.Type.String(),
		Extended:    frame.Extended,
		Transmitted: frame.Transmitted,
		Timestamp:   frame.Timestamp,
		Data:        hex.EncodeToString(frame.Payload()),
	}
}
