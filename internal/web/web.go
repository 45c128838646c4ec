// Package web serves the browser UI: the chat page, the provider
// settings page, and a server-rendered transcript view. All assets are
// embedded so the binary is self-contained.
package web

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/pseudoapp/pseudo/internal/chats"
)

//go:embed templates/*.html
var templateFiles embed.FS

// UI renders the embedded pages.
type UI struct {
	store     *chats.Store
	templates map[string]*template.Template
	logger    *slog.Logger
}

// New creates the web UI backed by the given chat store.
func New(store *chats.Store, logger *slog.Logger) *UI {
	if logger == nil {
		logger = slog.Default()
	}
	return &UI{
		store:     store,
		templates: loadTemplates(),
		logger:    logger,
	}
}

// RegisterRoutes attaches the UI pages to mux.
func (u *UI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", u.handleChatPage)
	mux.HandleFunc("GET /settings", u.handleSettingsPage)
	mux.HandleFunc("GET /chats/{id}/view", u.handleTranscript)
}

// loadTemplates parses the layout and each page template. Each page is
// a clone of the layout with the page-specific blocks overridden.
// Panics on syntax errors so that startup fails fast.
func loadTemplates() map[string]*template.Template {
	layout := template.Must(
		template.New("layout.html").ParseFS(templateFiles, "templates/layout.html"),
	)

	pages := []string{"chat.html", "settings.html", "transcript.html"}
	result := make(map[string]*template.Template, len(pages))

	for _, page := range pages {
		t := template.Must(layout.Clone())
		template.Must(t.ParseFS(templateFiles, "templates/"+page))
		result[page] = t
	}

	return result
}

// PageData is the shared template context.
type PageData struct {
	Title     string
	ActiveNav string
}

func (u *UI) render(w http.ResponseWriter, name string, data any) {
	t, ok := u.templates[name]
	if !ok {
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(w, "layout.html", data); err != nil {
		u.logger.Error("template render failed", "template", name, "error", err)
	}
}

func (u *UI) handleChatPage(w http.ResponseWriter, r *http.Request) {
	u.render(w, "chat.html", PageData{Title: "Pseudo", ActiveNav: "chat"})
}

func (u *UI) handleSettingsPage(w http.ResponseWriter, r *http.Request) {
	u.render(w, "settings.html", PageData{Title: "Settings", ActiveNav: "settings"})
}

// transcriptMessage is a display-friendly wrapper around a stored message.
type transcriptMessage struct {
	Role     string
	HTML     template.HTML
	Media    string
	MediaURL string
	Mode     string
	When     string
}

// TranscriptData is the template context for the transcript page.
type TranscriptData struct {
	PageData
	ChatID   string
	Messages []transcriptMessage
}

// handleTranscript renders a stored thread as a static page with
// assistant markdown converted to HTML.
func (u *UI) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	th, err := u.store.Get(id)
	if err != nil {
		u.logger.Error("transcript load failed", "chat_id", id, "error", err)
		http.Error(w, "failed to load chat", http.StatusInternalServerError)
		return
	}
	if th == nil {
		http.Error(w, "chat not found", http.StatusNotFound)
		return
	}

	data := TranscriptData{
		PageData: PageData{Title: th.Title, ActiveNav: "chat"},
		ChatID:   th.ID,
	}

	for _, m := range th.Messages {
		tm := transcriptMessage{
			Role: m.Role,
			Mode: string(m.Mode),
			When: m.Timestamp.Format("2006-01-02 15:04"),
		}
		if m.MediaFilename != "" {
			tm.Media = m.MediaFilename
			tm.MediaURL = "/api/chats/" + th.ID + "/media/" + m.MediaFilename
		} else if m.Role == "assistant" {
			tm.HTML = RenderMarkdown(m.Content)
		} else {
			tm.HTML = template.HTML(template.HTMLEscapeString(m.Content))
		}
		data.Messages = append(data.Messages, tm)
	}

	u.render(w, "transcript.html", data)
}

// RenderMarkdown converts assistant markdown to HTML. On conversion
// errors the text is returned escaped rather than dropped.
func RenderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}
