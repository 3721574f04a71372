package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/conneroisu/mermaidlive/internal/cache"
	previewerrors "github.com/conneroisu/mermaidlive/internal/errors"
	"github.com/conneroisu/mermaidlive/internal/preview"
	"github.com/conneroisu/mermaidlive/internal/renderer"
	"github.com/conneroisu/mermaidlive/internal/validation"
	"github.com/conneroisu/mermaidlive/internal/version"
	"github.com/conneroisu/mermaidlive/internal/watcher"
	"github.com/conneroisu/mermaidlive/internal/websocket"
)

type sourceRequest struct {
	Content string `json:"content"`
}

type sourceResponse struct {
	Sequence uint64 `json:"sequence"`
	Content  string `json:"content"`
}

type statsResponse struct {
	Pipeline preview.Stats `json:"pipeline"`
	Cache    cache.Stats   `json:"cache"`
	Clients  int           `json:"clients"`
}

func (s *PreviewServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	templ.Handler(previewPage(s.pageData())).ServeHTTP(w, r)
}

func (s *PreviewServer) pageData() pageData {
	title := version.Name
	if s.config.SourceFile != "" {
		title = s.config.SourceFile + " - " + version.Name
	}
	return pageData{
		Title:    title,
		Source:   s.pipeline.Source().Text,
		ReadOnly: s.config.SourceFile != "",
		Options:  s.pipeline.RenderOptions(),
		Status:   statusMessage(s.pipeline.Publisher().Current()),
	}
}

func (s *PreviewServer) handleSource(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		snapshot := s.pipeline.Source()
		s.writeJSON(w, http.StatusOK, sourceResponse{Sequence: snapshot.Sequence, Content: snapshot.Text})

	case http.MethodPost:
		text, err := readSource(w, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.pipeline.Submit(validation.SanitizeInput(text)); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// readSource accepts either {"content": "..."} or the raw diagram text.
func readSource(w http.ResponseWriter, r *http.Request) (string, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, watcher.MaxSourceSize))
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req sourceRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return "", fmt.Errorf("invalid JSON body: %w", err)
		}
		return req.Content, nil
	}
	return string(body), nil
}

func (s *PreviewServer) handleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.pipeline.Trigger(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, s.pipeline.Publisher().Current())
}

func (s *PreviewServer) handleOptions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.pipeline.RenderOptions())

	case http.MethodPut, http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64<<10))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		opts, err := s.mergeOptions(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.pipeline.SetRenderOptions(opts); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, s.pipeline.RenderOptions())

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// mergeOptions overlays a partial JSON document on the current options.
func (s *PreviewServer) mergeOptions(data []byte) (renderer.Options, error) {
	opts := s.pipeline.RenderOptions()
	if err := json.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("invalid render options: %w", err)
	}
	return opts, nil
}

func (s *PreviewServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.pipeline.Publisher().Current())
}

func (s *PreviewServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, statsResponse{
		Pipeline: s.pipeline.Stats(),
		Cache:    s.pipeline.CacheStats(),
		Clients:  s.hub.ClientCount(),
	})
}

func (s *PreviewServer) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := s.pipeline.Publisher().Current()
	if !status.HasArtifact() {
		http.Error(w, "no artifact rendered yet", http.StatusNotFound)
		return
	}

	artifact := status.Artifact
	w.Header().Set("Content-Type", artifact.Format.MediaType())
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Preview-Sequence", fmt.Sprint(status.Sequence))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(artifact.Data)
	}
}

func (s *PreviewServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := s.pipeline.Publisher().Current()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"timestamp":  time.Now().UTC(),
		"version":    version.GetShortVersion(),
		"build_info": version.GetBuildInfo(),
		"checks": map[string]interface{}{
			"pipeline":  map[string]interface{}{"state": status.State, "sequence": status.Sequence},
			"websocket": map[string]interface{}{"clients": s.hub.ClientCount()},
		},
	})
}

// handleClientMessage applies editor input received over the WebSocket.
func (s *PreviewServer) handleClientMessage(_ *websocket.Client, message websocket.ClientMessage) error {
	switch message.Type {
	case websocket.TypeSource:
		if len(message.Content) > watcher.MaxSourceSize {
			return fmt.Errorf("diagram source exceeds %d bytes", watcher.MaxSourceSize)
		}
		return s.pipeline.Submit(validation.SanitizeInput(message.Content))
	case websocket.TypeTrigger:
		return s.pipeline.Trigger()
	case websocket.TypeOptions:
		opts, err := s.mergeOptions(message.Options)
		if err != nil {
			return err
		}
		return s.pipeline.SetRenderOptions(opts)
	default:
		return fmt.Errorf("unknown message type %q", message.Type)
	}
}

func (s *PreviewServer) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn(context.Background(), err, "Failed to encode response")
	}
}

func (s *PreviewServer) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	var pe *previewerrors.PreviewError
	switch {
	case errors.Is(err, previewerrors.ErrPipelineStopped):
		code = http.StatusServiceUnavailable
	case errors.As(err, &pe) && pe.Type == previewerrors.ErrorTypeValidation:
		code = http.StatusBadRequest
	}
	http.Error(w, err.Error(), code)
}
