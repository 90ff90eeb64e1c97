package tap

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// frame is one websocket message to the subscriber.
type frame struct {
	Type    string          `json:"type"` // "event" or "notification"
	Output  string          `json:"output,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Pattern string          `json:"pattern,omitempty"`
}

// Server streams tap subscriptions over websocket. Patterns come from the
// request query: ?outputs=a,b*&inputs=sink_*
type Server struct {
	ctrl     *Controller
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a websocket front-end for the controller.
func NewServer(ctrl *Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ctrl:   ctrl,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler to mount, typically at /tap.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	patterns := Patterns{
		Outputs: splitPatterns(r.URL.Query().Get("outputs")),
		Inputs:  splitPatterns(r.URL.Query().Get("inputs")),
	}
	if len(patterns.Outputs) == 0 && len(patterns.Inputs) == 0 {
		http.Error(w, "at least one of outputs or inputs is required", http.StatusBadRequest)
		return
	}

	sub, err := s.ctrl.Subscribe(r.Context(), patterns)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		return
	}
	defer func() {
		sub.Close()
		_ = conn.Close()
	}()

	// Reader only detects client close; inbound payloads are ignored.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-clientGone:
			return
		case <-sub.Done():
			return
		case note := <-sub.Notifications():
			if err := s.write(conn, frame{
				Type:    "notification",
				Kind:    string(note.Kind),
				Pattern: note.Pattern,
			}); err != nil {
				return
			}
		case tapped := <-sub.Events():
			data, err := json.Marshal(tapped.Event)
			if err != nil {
				s.logger.Warn("encoding tapped event", "error", err)
				continue
			}
			if err := s.write(conn, frame{
				Type:   "event",
				Output: tapped.Output,
				Event:  data,
			}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func splitPatterns(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	patterns := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			patterns = append(patterns, trimmed)
		}
	}
	return patterns
}
