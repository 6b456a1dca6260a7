package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/chilledoj/roomchat"
	"github.com/chilledoj/roomchat/auth"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type Store interface {
	roomchat.MessageStore
	Ping(ctx context.Context) error
}

type server struct {
	coordinator *roomchat.Coordinator
	store       Store
	resolver    roomchat.IdentityResolver
	// issuer is nil unless dev login is enabled
	issuer  *auth.Issuer
	slogger *slog.Logger
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/rooms", s.handleRooms)
		r.Get("/messages/{room}", s.handleMessages)
		r.Get("/users", s.handleUsers)
		if s.issuer != nil {
			r.Post("/login", s.handleLogin)
		}
	})
	r.Get("/ws", s.coordinator.HandleSocket(s.resolver, s.socketError))

	return r
}

func (s *server) socketError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, roomchat.ErrAuthRejected) {
		s.slogger.Info("socket rejected", "remote", r.RemoteAddr, "err", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	s.slogger.Warn("socket upgrade failed", "remote", r.RemoteAddr, "err", err)
	http.Error(w, "bad request", http.StatusBadRequest)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.slogger.Error("health check", "err", err)
		jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleRooms(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.coordinator.Membership.Rooms())
}

func (s *server) handleMessages(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	if !s.coordinator.Membership.IsRoom(room) {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	msgs, err := s.store.ListMessagesByRoom(r.Context(), room)
	if err != nil {
		s.slogger.Error("listing messages", "room", room, "err", err)
		http.Error(w, "could not load messages", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, http.StatusOK, msgs)
}

func (s *server) handleUsers(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.coordinator.Presence.Online())
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type loginResponse struct {
	Token string            `json:"token"`
	User  roomchat.Identity `json:"user"`
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		http.Error(w, "username is required", http.StatusBadRequest)
		return
	}
	identity := roomchat.Identity{ID: uuid.NewString(), DisplayName: req.Username}
	token, err := s.issuer.Issue(identity, req.Email)
	if err != nil {
		s.slogger.Error("issuing token", "err", err)
		http.Error(w, "could not issue token", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, http.StatusOK, loginResponse{Token: token, User: identity})
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	buf, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}
