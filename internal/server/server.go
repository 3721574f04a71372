// Package server exposes the preview pipeline over HTTP.
//
// The browser loads a single page, edits diagram text in it and receives
// status updates over a WebSocket. The same operations are available as a
// small JSON API for editors and scripts:
//
//	GET  /                 preview page
//	GET  /ws               status stream, editor input
//	GET  /api/source       latest snapshot
//	POST /api/source       submit editor text
//	POST /api/render       regenerate now
//	GET  /api/options      current render options
//	PUT  /api/options      change render options
//	GET  /api/status       current status
//	GET  /api/stats        pipeline and cache counters
//	GET  /artifact         artifact on display
//	GET  /health           liveness
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/conneroisu/mermaidlive/internal/config"
	previewerrors "github.com/conneroisu/mermaidlive/internal/errors"
	"github.com/conneroisu/mermaidlive/internal/logging"
	"github.com/conneroisu/mermaidlive/internal/preview"
	"github.com/conneroisu/mermaidlive/internal/renderer"
	"github.com/conneroisu/mermaidlive/internal/validation"
	"github.com/conneroisu/mermaidlive/internal/websocket"
)

// PreviewServer serves the preview page and fans status out to browsers.
type PreviewServer struct {
	config   *config.Config
	pipeline *preview.Pipeline
	hub      *websocket.Hub
	logger   logging.Logger
	origins  []string

	httpServer  *http.Server
	serverMutex sync.RWMutex

	unsubscribe  func()
	shutdownOnce sync.Once
}

// New creates a preview server for a running pipeline.
func New(cfg *config.Config, pipeline *preview.Pipeline, logger logging.Logger) (*PreviewServer, error) {
	if cfg == nil {
		return nil, errors.New("server requires a configuration")
	}
	if pipeline == nil {
		return nil, errors.New("server requires a pipeline")
	}
	if logger == nil {
		logger = logging.Discard()
	}

	s := &PreviewServer{
		config:   cfg,
		pipeline: pipeline,
		logger:   logger.WithComponent("server"),
		origins:  allowedOrigins(cfg.Server),
	}

	hub, err := websocket.NewHub(websocket.HubConfig{
		OriginValidator: websocket.OriginValidatorFunc(s.isAllowedOrigin),
		OnMessage:       s.handleClientMessage,
		OnConnect: func(client *websocket.Client) {
			client.Send(statusMessage(pipeline.Publisher().Current()))
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	s.hub = hub

	s.unsubscribe = pipeline.Publisher().Subscribe(func(status preview.Status) {
		s.hub.BroadcastMessage(statusMessage(status))
	})

	return s, nil
}

// allowedOrigins is the configured list plus the server's own addresses.
func allowedOrigins(cfg config.ServerConfig) []string {
	port := strconv.Itoa(cfg.Port)
	origins := append([]string{}, cfg.AllowedOrigins...)
	for _, host := range []string{cfg.Host, "localhost", "127.0.0.1"} {
		if host == "" || host == "0.0.0.0" {
			continue
		}
		origins = append(origins, net.JoinHostPort(host, port))
	}
	return origins
}

func (s *PreviewServer) isAllowedOrigin(origin string) bool {
	return validation.ValidateOrigin(origin, s.origins) == nil
}

// Addr is the listen address.
func (s *PreviewServer) Addr() string {
	return net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
}

// URL is the address a browser should open.
func (s *PreviewServer) URL() string {
	host := s.config.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.config.Server.Port))
}

// Handler returns the routed and wrapped HTTP handler.
func (s *PreviewServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.hub.HandleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/source", s.handleSource)
	mux.HandleFunc("/api/render", s.handleRender)
	mux.HandleFunc("/api/options", s.handleOptions)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/artifact", s.handleArtifact)
	mux.HandleFunc("/", s.handleIndex)

	secured := SecurityMiddleware(&SecurityConfig{
		CSP:            DefaultCSP(),
		AllowedOrigins: s.origins,
		Logger:         s.logger,
	})(mux)
	return RequestLogger(s.logger)(secured)
}

// Start serves until the server is shut down.
func (s *PreviewServer) Start(ctx context.Context) error {
	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	if s.config.Server.Open {
		go s.openBrowser(s.URL())
	}

	s.logger.Info(ctx, "Preview server listening", "url", s.URL())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, disconnects browsers and detaches
// from the pipeline. The pipeline itself is left running.
func (s *PreviewServer) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")

		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		if err := s.hub.Shutdown(ctx); err != nil {
			shutdownErr = err
		}

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()
		if server != nil {
			if err := server.Shutdown(ctx); err != nil {
				shutdownErr = err
			}
		}
	})
	return shutdownErr
}

func (s *PreviewServer) openBrowser(url string) {
	time.Sleep(100 * time.Millisecond)

	if err := validation.ValidateURL(url); err != nil {
		s.logger.Warn(context.Background(), err, "Browser open failed due to invalid URL")
		return
	}

	var err error
	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		err = exec.Command("open", url).Start()
	default:
		err = fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
	if err != nil {
		s.logger.Warn(context.Background(), err, "Failed to open browser", "url", url)
	}
}

// statusMessage converts a pipeline status into the browser wire format.
// SVG travels inline; binary formats are fetched from /artifact.
func statusMessage(status preview.Status) websocket.UpdateMessage {
	msg := websocket.UpdateMessage{
		Type:        websocket.TypeStatus,
		State:       status.State.String(),
		Sequence:    status.Sequence,
		Fingerprint: status.Fingerprint.Short(),
		Error:       status.Err,
		FromCache:   status.FromCache,
		Timestamp:   status.UpdatedAt,
	}
	if status.State == preview.StateError {
		msg.Diagnostic = previewerrors.ParseDiagramError(status.Err)
	}
	if status.HasArtifact() {
		if status.Artifact.Format == "" || status.Artifact.Format == renderer.FormatSVG {
			msg.Content = string(status.Artifact.Data)
		} else {
			msg.URL = artifactURL(status)
		}
	}
	return msg
}

func artifactURL(status preview.Status) string {
	return "/artifact?format=" + string(status.Artifact.Format) + "&v=" + status.Fingerprint.Short()
}
