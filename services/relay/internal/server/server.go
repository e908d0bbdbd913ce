// Package server implements the webhook relay HTTP surface.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

// Publisher appends one raw update body to the durable queue.
type Publisher interface {
	Publish(ctx context.Context, body string) error
}

// Server accepts webhook trigger batches and relays their update bodies.
type Server struct {
	publisher Publisher
	secret    string
	mux       *http.ServeMux
}

// triggerEvent is the envelope the webhook trigger delivers: a batch of
// messages whose Body fields each carry one raw Telegram update.
type triggerEvent struct {
	Messages []struct {
		Details struct {
			Message struct {
				Body string `json:"body"`
			} `json:"message"`
		} `json:"details"`
	} `json:"messages"`
}

// New builds the relay server. An empty secret disables the header check.
func New(publisher Publisher, secret string) *Server {
	s := &Server{publisher: publisher, secret: secret, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /webhook", s.handleWebhook)
	return s
}

// Handler returns the http handler for the relay.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWebhook validates the secret, filters out bodies the worker must not
// see, and publishes the rest. The queue is the only failure that surfaces as
// non-200: Telegram retries on errors, and a lost body is worse than a
// duplicate one.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.secret != "" && r.Header.Get("X-Telegram-Bot-Api-Secret-Token") != s.secret {
		writeError(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}

	var event triggerEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		slog.Warn("malformed trigger event", "err", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	for _, msg := range event.Messages {
		body := msg.Details.Message.Body
		if body == "" {
			continue
		}
		if !s.shouldRelay(body) {
			continue
		}
		if err := s.publisher.Publish(r.Context(), body); err != nil {
			slog.Error("publish update", "err", err)
			writeError(w, http.StatusInternalServerError, "publish failed")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// shouldRelay drops bodies that are not parseable updates and synthetic ping
// probes used to keep the function warm.
func (s *Server) shouldRelay(body string) bool {
	var probe struct {
		Ping bool `json:"ping"`
	}
	if err := json.Unmarshal([]byte(body), &probe); err != nil {
		slog.Warn("skipping malformed update body", "err", err)
		return false
	}
	if probe.Ping {
		slog.Debug("skipping ping probe")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
