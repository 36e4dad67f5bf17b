package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	canwrap "github.com/samsamfire/gocanwrap"
	log "github.com/sirupsen/logrus"
)

type GatewayClient struct {
	http.Client
	baseURL string
}

func NewGatewayClient(baseURL string) *GatewayClient {
	return &GatewayClient{
		Client:  http.Client{},
		baseURL: baseURL,
	}
}

// HTTP request to gateway endpoint
// Does error checking : http related errors, json decode errors
// or actual gateway errors
func (client *GatewayClient) Do(method string, uri string, body any, response GatewayResponse) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewBuffer(encoded)
	}
	req, err := http.NewRequest(method, client.baseURL+uri, reader)
	if err != nil {
		log.Errorf("[HTTP][CLIENT] failed to create request : %v", err)
		return err
	}
	httpResp, err := client.Client.Do(req)
	if err != nil {
		log.Errorf("[HTTP][CLIENT] failed request : %v", err)
		return err
	}
	defer httpResp.Body.Close()
	// Decode JSON "generic" response
	err = json.NewDecoder(httpResp.Body).Decode(response)
	if err != nil {
		log.Errorf("[HTTP][CLIENT] failed to decode response : %v", err)
		return err
	}
	return response.GetError()
}

func channelURI(name string, command string) string {
	return fmt.Sprintf("/channel/%s/%s", url.PathEscape(name), command)
}

func (client *GatewayClient) Channels() ([]ChannelInfo, error) {
	resp := new(ChannelsResponse)
	err := client.Do(http.MethodGet, "/channels", nil, resp)
	return resp.Channels, err
}

func (client *GatewayClient) Open(name string, openType canwrap.OpenType, mode canwrap.OpenMode) error {
	req := OpenRequest{Type: openType.String(), Mode: mode.String()}
	return client.Do(http.MethodPost, channelURI(name, "open"), req, new(GatewayResponseBase))
}

func (client *GatewayClient) Close(name string) error {
	return client.Do(http.MethodPost, channelURI(name, "close"), nil, new(GatewayResponseBase))
}

// Send frames, returns the number of frames accepted
func (client *GatewayClient) Send(name string, frames []canwrap.Frame, timeout int32) (int, error) {
	req := SendRequest{Timeout: timeout, Frames: make([]Frame, 0, len(frames))}
	for _, frame := range frames {
		req.Frames = append(req.Frames, formatFrame(frame))
	}
	resp := new(SendResponse)
	err := client.Do(http.MethodPost, channelURI(name, "messages"), req, resp)
	return resp.Sent, err
}

func (client *GatewayClient) Receive(name string, items int, timeout int32) ([]canwrap.Frame, error) {
	resp := new(MessagesResponse)
	uri := fmt.Sprintf("%s?items=%d&timeout=%d", channelURI(name, "messages"), items, timeout)
	err := client.Do(http.MethodGet, uri, nil, resp)
	frames := make([]canwrap.Frame, 0, len(resp.Frames))
	for _, f := range resp.Frames {
		frame, e := parseFrame(f)
		if e != nil {
			return frames, e
		}
		frame.Transmitted = f.Transmitted
		frame.Timestamp = f.Timestamp
		frames = append(frames, frame)
	}
	return frames, err
}

func (client *GatewayClient) Settings(name string) (*SettingsResponse, error) {
	resp := new(SettingsResponse)
	err := client.Do(http.MethodGet, channelURI(name, "settings"), nil, resp)
	return resp, err
}

func (client *GatewayClient) UpdateSettings(name string, update SettingsRequest) error {
	return client.Do(http.MethodPut, channelURI(name, "settings"), update, new(GatewayResponseBase))
}

func (client *GatewayClient) Apply(name string, temporary bool) error {
	return client.Do(http.MethodPost, channelURI(name, "apply"), ApplyRequest{Temporary: temporary}, new(GatewayResponseBase))
}

func (client *GatewayClient) Blink(name string, enabled bool) error {
	return client.Do(http.MethodPost, channelURI(name, "blink"), BlinkRequest{Enabled: enabled}, new(GatewayResponseBase))
}

// Read gateway version
func (client *GatewayClient) GetVersion() (*VersionInfo, error) {
	versionInfo := new(VersionInfo)
	err := client.Do(http.MethodGet, "/version", nil, versionInfo)
	return versionInfo, err
}
