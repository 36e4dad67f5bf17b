package http

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/samsamfire/gocanwrap/pkg/gateway"
	"github.com/samsamfire/gocanwrap/pkg/manager"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const API_VERSION = "1.0"
const URI_PATTERN = `^/channel/([^/]+)/([a-z]+)$`

var regURI = regexp.MustCompile(URI_PATTERN)

type GatewayServer struct {
	*gateway.BaseGateway
	serveMux *http.ServeMux
	routes   map[string]GatewayRequestHandler
}

// Create a new gateway
func NewGatewayServer(m *manager.Manager) *GatewayServer {
	base := gateway.NewBaseGateway(m)
	gw := &GatewayServer{BaseGateway: base}
	gw.serveMux = http.NewServeMux()
	gw.serveMux.HandleFunc("/", gw.handleRequest) // This base route handles all the requests
	gw.routes = make(map[string]GatewayRequestHandler)

	gw.addRoute(http.MethodGet, "channels", gw.handleChannels)
	gw.addRoute(http.MethodGet, "version", gw.handleVersion)
	gw.addRoute(http.MethodPost, "open", gw.handleOpen)
	gw.addRoute(http.MethodPost, "close", gw.handleClose)
	gw.addRoute(http.MethodGet, "messages", gw.handleReceive)
	gw.addRoute(http.MethodPost, "messages", gw.handleSend)
	gw.addRoute(http.MethodGet, "settings", gw.handleGetSettings)
	gw.addRoute(http.MethodPut, "settings", gw.handleSetSettings)
	gw.addRoute(http.MethodPost, "apply", gw.handleApply)
	gw.addRoute(http.MethodPost, "blink", gw.handleBlink)
	return gw
}

func (gw *GatewayServer) Handler() http.Handler {
	return gw.serveMux
}

// Process server, blocking
func (gw *GatewayServer) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, gw.serveMux)
}

// Serve until ctx is done, then shut down gracefully and close channels
func (gw *GatewayServer) Run(ctx context.Context, addr string) error {
	server := &http.Server{Addr: addr, Handler: gw.serveMux}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("[HTTP][SERVER] listening on %v", addr)
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		gw.Disconnect()
		return err
	})
	return g.Wait()
}

// Add a route to the server for handling a specific command
func (gw *GatewayServer) addRoute(method string, command string, handler GatewayRequestHandler) {
	gw.routes[method+" "+command] = handler
}
