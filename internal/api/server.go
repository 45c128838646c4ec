// Package api implements the HTTP API: the chat pipeline endpoint,
// thread management, media serving, and credential administration.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/pseudoapp/pseudo/internal/buildinfo"
	"github.com/pseudoapp/pseudo/internal/chats"
	"github.com/pseudoapp/pseudo/internal/classify"
	"github.com/pseudoapp/pseudo/internal/credentials"
	"github.com/pseudoapp/pseudo/internal/dispatch"
	"github.com/pseudoapp/pseudo/internal/media"
	"github.com/pseudoapp/pseudo/internal/modality"
	"github.com/pseudoapp/pseudo/internal/web"
)

// placeholderContent stands in for binary payloads in transcripts and
// text responses.
const placeholderContent = "Generated content"

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address    string
	port       int
	store      *chats.Store
	creds      *credentials.Store
	classifier *classify.Classifier
	dispatcher *dispatch.Dispatcher
	persister  *media.Persister
	ui         *web.UI
	logger     *slog.Logger
	server     *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, store *chats.Store, creds *credentials.Store, classifier *classify.Classifier, dispatcher *dispatch.Dispatcher, persister *media.Persister, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:    address,
		port:       port,
		store:      store,
		creds:      creds,
		classifier: classifier,
		dispatcher: dispatcher,
		persister:  persister,
		ui:         web.New(store, logger),
		logger:     logger,
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Chat pipeline
	mux.HandleFunc("POST /api/chat", s.handleChat)

	// Thread management
	mux.HandleFunc("GET /api/chats", s.handleChatList)
	mux.HandleFunc("POST /api/chats", s.handleChatCreate)
	mux.HandleFunc("GET /api/chats/{id}", s.handleChatGet)
	mux.HandleFunc("DELETE /api/chats/{id}", s.handleChatDelete)

	// Media serving
	mux.HandleFunc("GET /api/chats/{id}/media/{filename}", s.handleMedia)
	mux.HandleFunc("GET /download/chats/{id}/media/{filename}", s.handleMediaDownload)

	// Credential administration
	mux.HandleFunc("GET /api/credentials", s.handleCredentialsGet)
	mux.HandleFunc("POST /api/credentials/provider", s.handleProviderSave)
	mux.HandleFunc("PUT /api/credentials/provider/{name}/key", s.handleProviderKeyUpdate)
	mux.HandleFunc("DELETE /api/credentials/provider/{mode}/{name}", s.handleProviderDelete)

	// Health and build info
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/version", s.handleVersion)

	// Chat web UI
	s.ui.RegisterRoutes(mux)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // generation can be slow
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{"error": message}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

// ChatRequest is the chat pipeline request.
type ChatRequest struct {
	Message string `json:"message"`
	ChatID  string `json:"chat_id,omitempty"`
}

// ChatResponse is the chat pipeline response. Text results carry the
// generated text in Response; media results carry a URL and filename
// with Response set to a display placeholder.
type ChatResponse struct {
	Response     string `json:"response"`
	SelectedMode string `json:"selected_mode"`
	ChatID       string `json:"chat_id"`
	Type         string `json:"type,omitempty"`
	URL          string `json:"url,omitempty"`
	Filename     string `json:"filename,omitempty"`
}

// handleChat runs the full pipeline: classify the request, dispatch it
// through the fallback queue, persist any media, and record both sides
// of the exchange in the thread.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "no message provided")
		return
	}

	ctx := r.Context()

	// Reuse the thread when it exists, mint a fresh id otherwise. The
	// thread directory materializes on first append.
	chatID := req.ChatID
	if chatID != "" {
		if th, err := s.store.Get(chatID); err != nil || th == nil {
			chatID = ""
		}
	}
	if chatID == "" {
		var err error
		chatID, err = s.store.Create(false)
		if err != nil {
			s.logger.Error("chat create failed", "error", err)
			s.errorResponse(w, http.StatusInternalServerError, "failed to create chat")
			return
		}
	}

	if err := s.store.Append(chatID, chats.Message{Role: "user", Content: req.Message}, ""); err != nil {
		s.logger.Error("failed to record user message", "chat_id", chatID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to record message")
		return
	}

	cat := s.creds.Catalog()

	cls := s.classifier.Classify(ctx, cat, req.Message)

	result, err := s.dispatcher.Dispatch(ctx, cat, cls.Mode, cls.Content)
	if err != nil {
		s.logger.Error("dispatch failed", "chat_id", chatID, "mode", cls.Mode, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := ChatResponse{
		Response:     result.Content.String(),
		SelectedMode: string(cls.Mode),
		ChatID:       chatID,
	}

	assistant := chats.Message{Role: "assistant", Mode: cls.Mode}
	mediaPath := ""

	if cls.Mode.Media() {
		resp.Response = placeholderContent
		assistant.Content = placeholderContent

		// Persistence failures degrade: the exchange is still recorded,
		// the response just carries no media fields.
		path, perr := s.persister.Persist(ctx, result.Content, cls.Mode, s.store.MediaDir(chatID))
		if perr != nil {
			s.logger.Error("media persist failed", "chat_id", chatID, "mode", cls.Mode, "error", perr)
		} else {
			mediaPath = path
			filename := filepath.Base(path)
			resp.Type = string(cls.Mode)
			resp.URL = fmt.Sprintf("/api/chats/%s/media/%s", chatID, filename)
			resp.Filename = filename
		}
	} else {
		assistant.Content = result.Content.String()
	}

	if err := s.store.Append(chatID, assistant, mediaPath); err != nil {
		s.logger.Error("failed to record assistant message", "chat_id", chatID, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleChatList(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.List()
	if err != nil {
		s.logger.Error("chat list failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"chats": list}, s.logger)
}

func (s *Server) handleChatCreate(w http.ResponseWriter, r *http.Request) {
	id, err := s.store.Create(true)
	if err != nil {
		s.logger.Error("chat create failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to create chat")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"chat_id": id}, s.logger)
}

func (s *Server) handleChatGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	th, err := s.store.Get(id)
	if err != nil {
		s.logger.Error("chat get failed", "chat_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load chat")
		return
	}
	if th == nil {
		s.errorResponse(w, http.StatusNotFound, "chat not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, th, s.logger)
}

func (s *Server) handleChatDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Delete(id); err != nil {
		s.errorResponse(w, http.StatusNotFound, "chat not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]bool{"success": true}, s.logger)
}

// mediaFile resolves a media request to a path inside the thread's
// media directory, rejecting traversal attempts. The mux decodes
// percent-escapes before filling path values, so both segments must be
// checked, not just the filename.
func (s *Server) mediaFile(r *http.Request) (string, bool) {
	id := r.PathValue("id")
	filename := r.PathValue("filename")
	for _, seg := range []string{id, filename} {
		if seg != filepath.Base(seg) || strings.HasPrefix(seg, ".") {
			return "", false
		}
	}
	return filepath.Join(s.store.MediaDir(id), filename), true
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	path, ok := s.mediaFile(r)
	if !ok {
		s.errorResponse(w, http.StatusBadRequest, "invalid filename")
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleMediaDownload(w http.ResponseWriter, r *http.Request) {
	path, ok := s.mediaFile(r)
	if !ok {
		s.errorResponse(w, http.StatusBadRequest, "invalid filename")
		return
	}
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

// providerView is a credential catalog entry with the key masked.
type providerView struct {
	Name         string   `json:"name"`
	HasAPIKey    bool     `json:"has_api_key"`
	Organization string   `json:"organization,omitempty"`
	Models       []string `json:"models"`
}

// handleCredentialsGet returns the catalog shape without exposing keys.
func (s *Server) handleCredentialsGet(w http.ResponseWriter, r *http.Request) {
	cat := s.creds.Catalog()

	out := make(map[string][]providerView)
	for _, mode := range modality.All() {
		mc := cat.Mode(mode)
		views := []providerView{}
		if mc != nil {
			for _, p := range mc.Providers {
				views = append(views, providerView{
					Name:         p.Name,
					HasAPIKey:    p.HasAPIKey && p.APIKey != "",
					Organization: p.Organization,
					Models:       p.Models,
				})
			}
		}
		out[string(mode)] = views
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"modes": out}, s.logger)
}

// providerSaveRequest adds or updates a provider in one or more modes.
// Omitted models fall back to per-provider defaults so a fresh entry is
// immediately dispatchable.
type providerSaveRequest struct {
	Provider     string              `json:"provider"`
	APIKey       string              `json:"api_key"`
	Organization string              `json:"organization,omitempty"`
	Modes        []string            `json:"modes"`
	Models       map[string][]string `json:"models,omitempty"`
}

func (s *Server) handleProviderSave(w http.ResponseWriter, r *http.Request) {
	var req providerSaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Provider == "" || len(req.Modes) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "provider and modes are required")
		return
	}
	if req.APIKey == "" && !strings.EqualFold(req.Provider, "ollama") {
		s.errorResponse(w, http.StatusBadRequest, "api_key is required")
		return
	}

	cat := s.creds.Catalog()
	for _, m := range req.Modes {
		mode, ok := modality.Parse(m)
		if !ok {
			s.errorResponse(w, http.StatusBadRequest, "unknown mode: "+m)
			return
		}

		mc := cat.Mode(mode)
		if mc == nil {
			mc = &credentials.ModeConfig{}
			cat.Modes[mode] = mc
		}

		models := req.Models[string(mode)]
		if existing, ok := mc.Provider(req.Provider); ok && len(models) == 0 {
			models = existing.Models
		}
		if len(models) == 0 {
			models = credentials.DefaultModels(req.Provider, mode)
		}

		mc.Upsert(credentials.Provider{
			Name:         req.Provider,
			APIKey:       req.APIKey,
			Organization: req.Organization,
			Models:       models,
			HasAPIKey:    true,
		})
	}

	if err := s.creds.Save(); err != nil {
		s.logger.Error("credentials save failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to save credentials")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]bool{"success": true}, s.logger)
}

// providerKeyRequest rotates a provider's API key. With no modes given
// the key changes everywhere the provider appears.
type providerKeyRequest struct {
	APIKey string   `json:"api_key"`
	Modes  []string `json:"modes,omitempty"`
}

func (s *Server) handleProviderKeyUpdate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req providerKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.APIKey == "" {
		s.errorResponse(w, http.StatusBadRequest, "api_key is required")
		return
	}

	modes := req.Modes
	if len(modes) == 0 {
		for _, m := range modality.All() {
			modes = append(modes, string(m))
		}
	}

	cat := s.creds.Catalog()
	updated := false
	for _, m := range modes {
		mode, ok := modality.Parse(m)
		if !ok {
			s.errorResponse(w, http.StatusBadRequest, "unknown mode: "+m)
			return
		}
		if cat.SetAPIKey(mode, name, req.APIKey) {
			updated = true
		}
	}

	if !updated {
		s.errorResponse(w, http.StatusNotFound, "provider not found")
		return
	}

	if err := s.creds.Save(); err != nil {
		s.logger.Error("credentials save failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to save credentials")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]bool{"success": true}, s.logger)
}

func (s *Server) handleProviderDelete(w http.ResponseWriter, r *http.Request) {
	mode, ok := modality.Parse(r.PathValue("mode"))
	if !ok {
		s.errorResponse(w, http.StatusBadRequest, "unknown mode: "+r.PathValue("mode"))
		return
	}
	name := r.PathValue("name")

	mc := s.creds.Catalog().Mode(mode)
	if mc == nil || !mc.Remove(name) {
		s.errorResponse(w, http.StatusNotFound,
			fmt.Sprintf("provider %s not found in %s mode", name, mode))
		return
	}

	if err := s.creds.Save(); err != nil {
		s.logger.Error("credentials save failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to save credentials")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]bool{"success": true}, s.logger)
}
