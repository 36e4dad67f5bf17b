package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	canwrap "github.com/samsamfire/gocanwrap"
	can "github.com/samsamfire/gocanwrap/pkg/can"
	"github.com/samsamfire/gocanwrap/pkg/channel"
	log "github.com/sirupsen/logrus"
)

// Wrapper around [http.ResponseWriter] but keeps track of any writes already done
// This allows us to perform default behaviour if handler has not already sent a response
type doneWriter struct {
	http.ResponseWriter
	done bool
}

// Handle a [GatewayRequest]
type GatewayRequestHandler func(w *doneWriter, req *GatewayRequest) error

func (w *doneWriter) WriteHeader(status int) {
	w.done = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *doneWriter) Write(b []byte) (int, error) {
	w.done = true
	return w.ResponseWriter.Write(b)
}

// Default handler of any HTTP gateway request
// This parses a typical request and forwards it to the correct handler
func (gw *GatewayServer) handleRequest(w http.ResponseWriter, raw *http.Request) {
	log.Debugf("[HTTP][SERVER] new request : %v %v", raw.Method, raw.URL)
	w.Header().Set("Content-Type", "application/json")
	req, err := NewGatewayRequestFromRaw(raw)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write(NewResponseError(err))
		return
	}
	route, ok := gw.routes[req.route()]
	if !ok {
		log.Debugf("[HTTP][SERVER] no handler found for %v", req.route())
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write(NewResponseError(ErrGwRequestNotSupported))
		return
	}
	// Process the actual command
	dw := &doneWriter{ResponseWriter: w}
	err = route(dw, req)
	if err != nil && !canwrap.IsWarning(err) {
		log.Debugf("[HTTP][SERVER] %v on %q failed : %v", req.route(), req.channel, err)
		if !dw.done {
			dw.WriteHeader(statusOf(err))
			_, _ = dw.Write(NewResponseError(err))
		}
		return
	}
	// Default response if no specific response was sent
	if !dw.done {
		if err != nil {
			// Warnings are reported with a successful status
			_, _ = dw.Write(NewResponseError(err))
			return
		}
		_, _ = dw.Write(NewResponseSuccess())
	}
}

func statusOf(err error) int {
	gwErr := fromError(err)
	switch gwErr.Code {
	case ErrGwSyntaxError.Code, canwrap.Code(canwrap.ErrIllegalArgument), canwrap.Code(canwrap.ErrIllegalBaudrate), canwrap.Code(canwrap.ErrInvalidFrame):
		return http.StatusBadRequest
	case ErrGwRequestNotSupported.Code, canwrap.Code(canwrap.ErrChannelNotFound):
		return http.StatusNotFound
	case canwrap.Code(canwrap.ErrTimeout), canwrap.Code(canwrap.ErrNoMessage):
		return http.StatusRequestTimeout
	case canwrap.Code(canwrap.ErrNotSupported):
		return http.StatusNotImplemented
	case canwrap.Code(canwrap.ErrNotOpen), canwrap.Code(canwrap.ErrAlreadyOpen), canwrap.Code(canwrap.ErrListenOnly), canwrap.Code(canwrap.ErrTxBusy):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Decode the json body of a request, an empty body leaves v untouched
func decodeBody(req *GatewayRequest, v any) error {
	err := json.NewDecoder(req.raw.Body).Decode(v)
	if err != nil && err != io.EOF {
		log.Warnf("[HTTP][SERVER] failed to unmarshal request body : %v", err)
		return ErrGwSyntaxError
	}
	return nil
}

func writeJSON(w *doneWriter, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (gw *GatewayServer) handleChannels(w *doneWriter, req *GatewayRequest) error {
	channels := gw.Channels()
	resp := ChannelsResponse{
		GatewayResponseBase: &GatewayResponseBase{Response: "OK"},
		Channels:            make([]ChannelInfo, 0, len(channels)),
	}
	for _, info := range channels {
		resp.Channels = append(resp.Channels, ChannelInfo{
			Name:        info.Name,
			Interface:   info.Interface,
			Device:      info.Device,
			Serial:      info.Serial,
			Index:       info.Index,
			Description: info.Description,
		})
	}
	return writeJSON(w, resp)
}

func (gw *GatewayServer) handleVersion(w *doneWriter, req *GatewayRequest) error {
	version := gw.GetVersion(can.Interfaces())
	return writeJSON(w, VersionInfo{
		GatewayResponseBase: &GatewayResponseBase{Response: "OK"},
		GatewayVersion:      &version,
	})
}

func (gw *GatewayServer) handleOpen(w *doneWriter, req *GatewayRequest) error {
	var open OpenRequest
	if err := decodeBody(req, &open); err != nil {
		return err
	}
	openType, err := parseOpenType(open.Type)
	if err != nil {
		return err
	}
	mode, err := parseOpenMode(open.Mode)
	if err != nil {
		return err
	}
	return gw.Open(req.channel, openType, mode)
}

func (gw *GatewayServer) handleClose(w *doneWriter, req *GatewayRequest) error {
	return gw.Close(req.channel)
}

func (gw *GatewayServer) handleSend(w *doneWriter, req *GatewayRequest) error {
	var send SendRequest
	if err := decodeBody(req, &send); err != nil {
		return err
	}
	frames := make([]canwrap.Frame, 0, len(send.Frames))
	for _, f := range send.Frames {
		frame, err := parseFrame(f)
		if err != nil {
			return err
		}
		frames = append(frames, frame)
	}
	sent, err := gw.Send(req.channel, frames, send.Timeout)
	if err != nil && !canwrap.IsWarning(err) {
		return err
	}
	return writeJSON(w, SendResponse{GatewayResponseBase: responseBase(err), Sent: sent})
}

// Messages are read with query parameters items (default -1)
// and timeout in ms (default 0)
func (gw *GatewayServer) handleReceive(w *doneWriter, req *GatewayRequest) error {
	query := req.raw.URL.Query()
	items := -1
	timeout := int64(0)
	var err error
	if value := query.Get("items"); value != "" {
		if items, err = strconv.Atoi(value); err != nil {
			return ErrGwSyntaxError
		}
	}
	if value := query.Get("timeout"); value != "" {
		if timeout, err = strconv.ParseInt(value, 10, 32); err != nil {
			return ErrGwSyntaxError
		}
	}
	frames, err := gw.Receive(req.channel, items, int32(timeout))
	if err != nil && !canwrap.IsWarning(err) {
		return err
	}
	resp := MessagesResponse{GatewayResponseBase: responseBase(err), Frames: make([]Frame, 0, len(frames))}
	for _, frame := range frames {
		resp.Frames = append(resp.Frames, formatFrame(frame))
	}
	return writeJSON(w, resp)
}

// Response base carrying a possible warning
func responseBase(warning error) *GatewayResponseBase {
	if warning == nil {
		return &GatewayResponseBase{Response: "OK"}
	}
	gwErr := fromError(warning)
	return &GatewayResponseBase{Code: gwErr.Code, Response: gwErr.Error(), Description: gwErr.Description()}
}

func (gw *GatewayServer) handleGetSettings(w *doneWriter, req *GatewayRequest) error {
	ch, err := gw.Channel(req.channel)
	if err != nil {
		return err
	}
	settings := ch.PendingSettings()
	resp := SettingsResponse{
		GatewayResponseBase: &GatewayResponseBase{Response: "OK"},
		Bitrate:             settings.Bitrate,
		FDBitrate:           settings.FDBitrate,
		CustomBitrate:       settings.CustomBitrate,
		Termination:         settings.Termination,
		Echo:                settings.Echo,
		BusErrorReport:      settings.BusErrorReport,
		TxMode:              settings.TxMode.String(),
		TxTiming:            make(map[string]int32),
	}
	for _, id := range settings.TimedIDs() {
		resp.TxTiming["0x"+strconv.FormatUint(uint64(id), 16)] = settings.TxTiming[id]
	}
	return writeJSON(w, resp)
}

func (gw *GatewayServer) handleSetSettings(w *doneWriter, req *GatewayRequest) error {
	var update SettingsRequest
	if err := decodeBody(req, &update); err != nil {
		return err
	}
	return gw.UpdateSettings(req.channel, func(ch *channel.Channel) error {
		return applyUpdate(ch, update)
	})
}

// Apply each value of a settings update, stops at the first error
func applyUpdate(ch *channel.Channel, update SettingsRequest) error {
	if update.Bitrate != nil {
		if err := ch.SetBaudRate(*update.Bitrate); err != nil {
			return err
		}
	}
	if update.FDBitrate != nil {
		if err := ch.SetFdBaudRate(*update.FDBitrate); err != nil {
			return err
		}
	}
	if update.CustomBitrate != nil {
		if err := ch.SetCustomBaudRate(*update.CustomBitrate); err != nil {
			return err
		}
	}
	if update.Termination != nil {
		if err := ch.SetTermination(*update.Termination); err != nil {
			return err
		}
	}
	if update.Echo != nil {
		if err := ch.SetEcho(*update.Echo); err != nil {
			return err
		}
	}
	if update.BusErrorReport != nil {
		if err := ch.SetBusErrorReport(*update.BusErrorReport); err != nil {
			return err
		}
	}
	if update.TxMode != nil {
		mode, err := parseTxMode(*update.TxMode)
		if err != nil {
			return err
		}
		if err := ch.SetTxMode(mode); err != nil {
			return err
		}
	}
	for idStr, ms := range update.TxTiming {
		id, err := parseID(idStr)
		if err != nil {
			return err
		}
		if err := ch.SetTxTiming(id, ms); err != nil {
			return err
		}
	}
	return nil
}

func (gw *GatewayServer) handleApply(w *doneWriter, req *GatewayRequest) error {
	var apply ApplyRequest
	if err := decodeBody(req, &apply); err != nil {
		return err
	}
	return gw.Apply(req.channel, apply.Temporary)
}

func (gw *GatewayServer) handleBlink(w *doneWriter, req *GatewayRequest) error {
	blink := BlinkRequest{Enabled: true}
	if err := decodeBody(req, &blink); err != nil {
		return err
	}
	return gw.Blink(req.channel, blink.Enabled)
}
