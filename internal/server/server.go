// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package server exposes a pipeline over a websocket. Each connection is a
// session with its own conversation; the server owns one pipeline and hands
// it to every handler.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/pdiddy/terafinder/internal/history"
	"github.com/pdiddy/terafinder/internal/pipeline"
	"github.com/pdiddy/terafinder/pkg/types"
)

// Message types sent to clients.
const (
	TypeStage  = "stage"
	TypeAnswer = "answer"
	TypeError  = "error"
)

// Request is a client message asking for one research run.
type Request struct {
	Query string `json:"query"`
	Mode  string `json:"mode"`
}

// Message is a server message. Stage messages carry the stage name and the
// memory written so far; the answer message closes a run.
type Message struct {
	Type      string `json:"type"`
	Session   string `json:"session"`
	Stage     string `json:"stage,omitempty"`
	Iteration int    `json:"iteration"`

	Memory map[string]any `json:"memory,omitempty"`

	Answer       *types.StructuredAnswer `json:"answer,omitempty"`
	Formatted    string                  `json:"formatted,omitempty"`
	Conversation []string                `json:"conversation,omitempty"`
	RunID        string                  `json:"run_id,omitempty"`

	Error string `json:"error,omitempty"`
}

// Server serves /healthz and /ws.
type Server struct {
	pipe   *pipeline.Pipeline
	store  *history.Store
	logger *slog.Logger
	mux    *http.ServeMux
}

// New returns a server for pipe. A nil store disables run history.
func New(pipe *pipeline.Pipeline, store *history.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{pipe: pipe, store: store, logger: logger, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	}
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/ws", s.handleWS)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "closing")

	id := uuid.NewString()
	sess := &session{
		id:     id,
		conn:   conn,
		server: s,
		logger: s.logger.With("session", id),
	}
	sess.logger.Info("session opened")
	sess.serve(r.Context())
	sess.logger.Info("session closed")
}

// session is one websocket connection and its conversation lineage.
type session struct {
	id     string
	conn   *websocket.Conn
	server *Server
	logger *slog.Logger

	// last is the final state of the previous run; nil before the first.
	last *types.PipelineState
}

func (ss *session) serve(ctx context.Context) {
	for {
		var req Request
		if err := wsjson.Read(ctx, ss.conn, &req); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				ss.logger.Debug("read failed", "error", err)
			}
			return
		}
		if err := ss.handle(ctx, req); err != nil {
			ss.logger.Debug("write failed", "error", err)
			return
		}
	}
}

// handle runs one request. It returns an error only when the connection
// can no longer be written to.
func (ss *session) handle(ctx context.Context, req Request) error {
	mode, err := pipeline.ParseMode(req.Mode)
	if err != nil {
		return ss.send(ctx, Message{Type: TypeError, Error: err.Error()})
	}
	if strings.TrimSpace(req.Query) == "" {
		return ss.send(ctx, Message{Type: TypeError, Error: "query is empty"})
	}

	initial := types.NewState(req.Query)
	if ss.last != nil {
		initial = pipeline.FollowUp(*ss.last, req.Query)
	}

	var writeErr error
	observe := func(e pipeline.Event) {
		if writeErr != nil {
			return
		}
		writeErr = ss.send(ctx, Message{
			Type:      TypeStage,
			Stage:     string(e.Stage),
			Iteration: e.Iteration,
			Memory:    stageMemory(e.State.Memory),
		})
	}

	final, err := ss.server.pipe.RunState(ctx, mode, initial, observe)
	if writeErr != nil {
		return writeErr
	}
	if err != nil {
		return ss.send(ctx, Message{Type: TypeError, Error: err.Error()})
	}
	ss.last = &final

	msg := Message{
		Type:         TypeAnswer,
		Iteration:    final.Iteration,
		Answer:       final.Answer,
		Formatted:    final.Memory.String(types.MemFormattedOutput),
		Conversation: final.Conversation,
	}
	if store := ss.server.store; store != nil {
		id, err := store.Save(ctx, history.NewRecord(string(mode), final))
		if err != nil {
			ss.logger.Warn("saving run failed", "error", err)
		} else {
			msg.RunID = id
		}
	}
	return ss.send(ctx, msg)
}

func (ss *session) send(ctx context.Context, msg Message) error {
	msg.Session = ss.id
	return wsjson.Write(ctx, ss.conn, msg)
}

// stageMemory copies memory without the formatted output, which the answer
// message carries once.
func stageMemory(m types.Memory) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k == types.MemFormattedOutput {
			continue
		}
		out[k] = v
	}
	return out
}
