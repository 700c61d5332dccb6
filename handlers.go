package main

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nostr-feed/internal/nips"
	"nostr-feed/internal/profiles"
	"nostr-feed/internal/reactions"
	"nostr-feed/internal/relay"
	"nostr-feed/internal/types"
	"nostr-feed/internal/util"
)

// Request body size limit for POST requests
const maxBodySize = 32 * 1024

type CountResponse struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

type ToggleResponse struct {
	EventID string                   `json:"event_id"`
	Result  string                   `json:"result"`
	Group   types.EmojiReactionGroup `json:"reactions"`
}

type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

// limitBody wraps an HTTP handler to limit request body size
func limitBody(next http.HandlerFunc, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next(w, r)
	}
}

// securityHeaders adds the headers every API response carries
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// routes builds the JSON API
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/events/{id}/comments", a.commentsHandler)
	mux.HandleFunc("GET /api/events/{id}/comments/all", a.allCommentsHandler)
	mux.HandleFunc("GET /api/events/{id}/comments/count", a.commentCountHandler)
	mux.HandleFunc("GET /api/events/{id}/reactions", a.reactionsHandler)
	mux.HandleFunc("POST /api/events/{id}/reactions", limitBody(a.toggleReactionHandler, maxBodySize))
	mux.HandleFunc("GET /api/profiles/{pubkey}", a.profileHandler)
	mux.HandleFunc("GET /api/rooms", a.roomsHandler)
	mux.HandleFunc("GET /api/rooms/search", a.roomSearchHandler)
	mux.HandleFunc("GET /api/rooms/{id}/count", a.roomCountHandler)
	mux.HandleFunc("GET /api/relays", a.relaysHandler)
	mux.HandleFunc("GET /api/relays/status", a.relayStatusHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", healthHandler)

	return RequestLoggingMiddleware(securityHeaders(mux))
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	util.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseLimit reads a positive integer query value, or returns fallback
func parseLimit(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// eventIDParam accepts a hex id or a note1 bech32 id
func eventIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := nips.ToHex(r.PathValue("id"), "note")
	if err != nil {
		util.RespondBadRequest(w, "invalid event id")
		return "", false
	}
	return id, true
}

func (a *App) commentsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := eventIDParam(w, r)
	if !ok {
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"), 0)
	util.WriteJSON(w, http.StatusOK, a.comments.TopLevelComments(r.Context(), id, limit))
}

func (a *App) allCommentsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := eventIDParam(w, r)
	if !ok {
		return
	}
	util.WriteJSON(w, http.StatusOK, a.comments.AllComments(r.Context(), id))
}

func (a *App) commentCountHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := eventIDParam(w, r)
	if !ok {
		return
	}
	util.WriteJSON(w, http.StatusOK, CountResponse{ID: id, Count: a.comments.LocalCommentCount(id)})
}

func (a *App) reactionsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := eventIDParam(w, r)
	if !ok {
		return
	}
	load := r.URL.Query().Get("load") != "false"
	util.WriteJSON(w, http.StatusOK, a.reactions.EmojiReactions(r.Context(), id, load))
}

func (a *App) toggleReactionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := eventIDParam(w, r)
	if !ok {
		return
	}
	if a.sessions.Current() == nil {
		util.RespondError(w, http.StatusUnauthorized, "login required")
		return
	}

	// Only JSON bodies, so a cross-site form post cannot publish
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt != "application/json" {
		util.RespondError(w, http.StatusUnsupportedMediaType, "expected application/json")
		return
	}

	var req ReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		util.RespondBadRequest(w, "invalid request body")
		return
	}

	result, err := a.reactions.Toggle(r.Context(), id, req.Emoji)
	switch {
	case errors.Is(err, reactions.ErrInvalidEmoji):
		util.RespondBadRequest(w, err.Error())
		return
	case err != nil:
		LoggerFromContext(r.Context()).Warn("reaction publish failed", "event_id", id, "error", err)
		util.RespondError(w, http.StatusBadGateway, "publish failed")
		return
	}

	util.WriteJSON(w, http.StatusOK, ToggleResponse{
		EventID: id,
		Result:  result.String(),
		Group:   a.reactions.EmojiReactions(r.Context(), id, false),
	})
}

func (a *App) profileHandler(w http.ResponseWriter, r *http.Request) {
	pubkey, err := nips.ToHex(r.PathValue("pubkey"), "npub")
	if err != nil {
		util.RespondBadRequest(w, "invalid pubkey")
		return
	}

	hints := util.ParseStringList(r.URL.Query().Get("relays"))
	result, err := a.profiles.Request(r.Context(), profiles.ProfileRequest{PubKey: pubkey, Relays: hints})
	switch {
	case errors.Is(err, profiles.ErrProfileNotFound):
		util.RespondNotFound(w, "profile not found")
		return
	case errors.Is(err, profiles.ErrInvalidPubKey):
		util.RespondBadRequest(w, "invalid pubkey")
		return
	case err != nil:
		util.RespondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	util.WriteJSON(w, http.StatusOK, result)
}

func (a *App) roomsHandler(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), 0)
	util.WriteJSON(w, http.StatusOK, a.rooms.Rooms(r.Context(), limit))
}

func (a *App) roomSearchHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	util.WriteJSON(w, http.StatusOK, a.rooms.Search(r.Context(), q.Get("q"), parseLimit(q.Get("limit"), 20)))
}

func (a *App) roomCountHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := eventIDParam(w, r)
	if !ok {
		return
	}
	util.WriteJSON(w, http.StatusOK, CountResponse{ID: id, Count: a.rooms.MessageCount(r.Context(), id)})
}

func (a *App) relaysHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	urls := a.router.RelayURLs(relay.SelectOptions{
		PreferSearch: q.Get("prefer_search") == "true",
		Limit:        parseLimit(q.Get("limit"), 0),
	})
	util.WriteJSON(w, http.StatusOK, urls)
}

func (a *App) relayStatusHandler(w http.ResponseWriter, r *http.Request) {
	util.WriteJSON(w, http.StatusOK, a.pool.Statuses())
}
