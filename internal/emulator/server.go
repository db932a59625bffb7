// Package emulator serves the hosted store's API surface over an in-memory
// tree, for local development and integration tests: the REST tree routes,
// whole-tree snapshots, and the websocket watch stream.
package emulator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/m3loqt/unihealth-app-sub008/internal/store/memory"
	"github.com/m3loqt/unihealth-app-sub008/internal/treepath"
)

// Server exposes a memory store over HTTP.
type Server struct {
	store *memory.Store
	token string
	log   zerolog.Logger
}

// New constructs a Server around st. When token is non-empty every request
// must carry it as a bearer token.
func New(st *memory.Store, token string, log zerolog.Logger) *Server {
	return &Server{store: st, token: token, log: log}
}

// Handler returns the HTTP handler with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.authMiddleware)
	r.HandleFunc("/v1/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/v1/watch", s.handleWatch).Methods(http.MethodGet)
	r.HandleFunc("/v1/tree/{path:.+}", s.handleRead).Methods(http.MethodGet)
	r.HandleFunc("/v1/tree/{path:.+}", s.handleWrite).Methods(http.MethodPut)
	r.HandleFunc("/v1/tree/{path:.+}", s.handlePush).Methods(http.MethodPost)
	r.HandleFunc("/v1/tree/{path:.+}", s.handleDelete).Methods(http.MethodDelete)
	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != s.token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func requestPath(r *http.Request) (string, error) {
	p := mux.Vars(r)["path"]
	for _, seg := range treepath.Split(p) {
		if !treepath.ValidKey(seg) {
			return "", fmt.Errorf("invalid path segment %q", seg)
		}
	}
	return p, nil
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	path, err := requestPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	v, err := s.store.Read(r.Context(), path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	path, err := requestPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var v any
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		http.Error(w, "malformed JSON body", http.StatusBadRequest)
		return
	}
	if err := s.store.Write(r.Context(), path, v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	path, err := requestPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var v any
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		http.Error(w, "malformed JSON body", http.StatusBadRequest)
		return
	}
	key, err := s.store.Push(r.Context(), path, v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": key})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	path, err := requestPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.Delete(r.Context(), path); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	tree, err := s.store.Snapshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	paths := r.URL.Query()["path"]
	if len(paths) == 0 {
		http.Error(w, "at least one path query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("watch handshake failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	sub, err := s.store.Watch(r.Context(), paths...)
	if err != nil {
		return
	}
	defer func() { _ = sub.Close() }()

	ctx := r.Context()
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				// Subscriber dropped (buffer overflow); the client will
				// reconnect and resync from a fresh snapshot.
				conn.Close(websocket.StatusTryAgainLater, "event buffer overflow")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
