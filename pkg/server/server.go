// Package server exposes the orchestrator's session lifecycle over HTTP:
// creating/closing sessions, pushing text turns, streaming events as
// Server-Sent Events, and upgrading a connection to a WebSocket audio
// transport.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/session"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/transport"
)

// Server is the HTTP control surface over a session.Manager.
type Server struct {
	manager *session.Manager
	logger  orchestrator.Logger
	router  chi.Router
}

// New builds a Server routing against manager. logger may be nil.
func New(manager *session.Manager, logger orchestrator.Logger) *Server {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	s := &Server{manager: manager, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/sessions", s.handleCreateSession)
	r.Delete("/sessions/{id}", s.handleCloseSession)
	r.Post("/sessions/{id}/text", s.handleSubmitText)
	r.Get("/sessions/{id}/events", s.handleEvents)
	r.Get("/sessions/{id}/audio", s.handleAudio)
	r.Get("/sessions/{id}", s.handleGetSession)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// createSessionRequest is the POST /sessions body. AgentID resolution
// against the agent admin subsystem lives outside this service; UserID
// remains as an additional identity field existing deployments already
// send.
type createSessionRequest struct {
	AgentID string `json:"agent_id"`
	UserID  string `json:"user_id"`
}

// createSessionResponse carries what a client needs to attach an audio
// transport. TransportCredentials is the session ID itself: the
// WebSocket audio binding authenticates a connection by its session ID
// path segment, so there is no separate credential to mint.
type createSessionResponse struct {
	SessionID            string `json:"session_id"`
	TransportCredentials string `json:"transport_credentials"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	userID := req.UserID
	if userID == "" {
		userID = req.AgentID
	}
	if userID == "" {
		userID = "anonymous"
	}

	id, _ := s.manager.Create(context.Background(), userID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(createSessionResponse{SessionID: id, TransportCredentials: id})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.Close(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stream := s.manager.Get(id)
	if stream == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"session_id": id,
		"state":      string(stream.State()),
	})
}

type submitTextRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSubmitText(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stream := s.manager.Get(id)
	if stream == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	var req submitTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.manager.Touch(id)
	go stream.SubmitText(r.Context(), req.Text)

	w.WriteHeader(http.StatusAccepted)
}

// handleAudio upgrades the request to the session's bidirectional audio
// channel: inbound binary frames are raw PCM from the peer's microphone
// and feed the turn loop, outbound binary frames are synthesized audio,
// and every non-audio event rides the same socket as a JSON text frame.
// Clients default to the canonical 16kHz; one at another rate declares
// it with ?rate= and is resampled at this boundary in both directions.
// A session's event feed has a single consumer — a client uses either
// this socket or the SSE endpoint, not both at once.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stream := s.manager.Get(id)
	if stream == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	clientRate, _ := strconv.Atoi(r.URL.Query().Get("rate"))
	if clientRate <= 0 {
		clientRate = audio.CanonicalRate
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "session", id, "error", err)
		return
	}
	tr := transport.NewWebSocketTransport(conn, clientRate)
	defer tr.Close()

	ingest := audio.NewIngestor(clientRate)
	emit := audio.NewEmitter(clientRate)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-stream.Events():
				if !ok {
					return
				}
				if ev.Type == orchestrator.AudioChunk {
					if b, ok := ev.Data.([]byte); ok {
						if err := tr.Play(emit.Emit(b)); err != nil {
							return
						}
					}
					continue
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
					return
				}
			}
		}
	}()

	// Start returns when the peer hangs up or the connection fails;
	// either way the session is torn down.
	err = tr.Start(ctx, func(chunk []byte) {
		s.manager.Touch(id)
		for _, frame := range ingest.Ingest(chunk) {
			if werr := stream.Write(frame); werr != nil {
				s.logger.Warn("audio frame rejected", "session", id, "error", werr)
				return
			}
		}
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Info("audio transport closed", "session", id, "reason", err)
	}
	s.manager.Close(id)
}

// handleEvents streams a session's OrchestratorEvent feed as
// Server-Sent Events. Binary audio chunks are base64-encoded by the JSON
// marshaler's []byte handling, matching the wire shape clients already
// expect from OrchestratorEvent.Data.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stream := s.manager.Get(id)
	if stream == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream.Events():
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("failed to marshal event", "error", err)
				continue
			}
			w.Write([]byte("data: "))
			w.Write(payload)
			w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-heartbeat.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()
		}
	}
}
