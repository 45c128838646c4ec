// Package chats is the file-backed conversation store. Each thread
// lives in its own directory as a metadata.json plus a media/
// subdirectory, and a shared history.json indexes every thread for
// cheap listing. The index is advisory: the per-thread directories are
// the source of truth and the index is reconciled against them on List.
package chats

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pseudoapp/pseudo/internal/fsutil"
	"github.com/pseudoapp/pseudo/internal/modality"
)

const defaultTitle = "New Chat"

// maxTitleRunes caps a derived thread title before the ellipsis.
const maxTitleRunes = 30

// Message is one entry in a thread's transcript.
type Message struct {
	Role          string        `json:"role"`
	Content       string        `json:"content"`
	Mode          modality.Mode `json:"mode,omitempty"`
	MediaFilename string        `json:"media,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Thread is a full conversation as stored in metadata.json.
type Thread struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Messages     []Message `json:"messages"`
	MessageCount int       `json:"message_count"`
}

// IndexEntry is a thread summary in the shared index.
type IndexEntry struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

type index struct {
	Chats     []IndexEntry `json:"chats"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Store manages conversation threads under a base directory.
type Store struct {
	baseDir string
	logger  *slog.Logger

	mu  sync.Mutex
	idx index
}

// New opens the store, creating the base directory and index file on
// first use. A corrupt index is replaced with an empty one; the next
// List rebuilds it from the thread directories.
func New(baseDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create chats dir: %w", err)
	}

	s := &Store{baseDir: baseDir, logger: logger}

	data, err := os.ReadFile(s.indexPath())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.idx = index{Chats: []IndexEntry{}, UpdatedAt: time.Now().UTC()}
		if err := s.saveIndex(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("read index: %w", err)
	default:
		if err := json.Unmarshal(data, &s.idx); err != nil {
			logger.Warn("chat index corrupt, rebuilding", "error", err)
			s.idx = index{Chats: []IndexEntry{}, UpdatedAt: time.Now().UTC()}
		}
	}

	return s, nil
}

func (s *Store) indexPath() string {
	return filepath.Join(s.baseDir, "history.json")
}

func (s *Store) threadDir(id string) string {
	return filepath.Join(s.baseDir, id)
}

// MediaDir returns the media directory for a thread.
func (s *Store) MediaDir(id string) string {
	return filepath.Join(s.threadDir(id), "media")
}

func (s *Store) metadataPath(id string) string {
	return filepath.Join(s.threadDir(id), "metadata.json")
}

// saveIndex writes the index. Callers hold s.mu.
func (s *Store) saveIndex() error {
	s.idx.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(s.idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.indexPath(), data, 0644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

func (s *Store) saveThread(t *Thread) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal thread: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.metadataPath(t.ID), data, 0644); err != nil {
		return fmt.Errorf("write thread: %w", err)
	}
	return nil
}

// Create makes a new thread id. With persist set, the thread directory,
// media subdirectory, metadata file, and index entry are created now;
// otherwise only the id is minted and the thread materializes on the
// first Append.
func (s *Store) Create(persist bool) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate chat id: %w", err)
	}
	chatID := id.String()

	if !persist {
		return chatID, nil
	}

	if err := os.MkdirAll(s.MediaDir(chatID), 0755); err != nil {
		return "", fmt.Errorf("create chat dir: %w", err)
	}

	now := time.Now().UTC()
	t := &Thread{
		ID:        chatID,
		Title:     defaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []Message{},
	}
	if err := s.saveThread(t); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Newest first.
	s.idx.Chats = append([]IndexEntry{{
		ID:        chatID,
		Title:     defaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}}, s.idx.Chats...)
	if err := s.saveIndex(); err != nil {
		return "", err
	}

	s.logger.Info("chat created", "chat_id", chatID)
	return chatID, nil
}

// validID reports whether id is safe to use as a thread directory
// name. Ids arrive from URL paths, so anything that is not a bare,
// non-hidden path segment would escape the store's base directory when
// joined. Dot-prefixed names are also what reconcile skips on disk.
func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	if strings.ContainsAny(id, `/\`) {
		return false
	}
	return !strings.HasPrefix(id, ".")
}

// Get loads a thread. A missing thread returns (nil, nil), as does an
// id that could never name a thread directory.
func (s *Store) Get(id string) (*Thread, error) {
	if !validID(id) {
		return nil, nil
	}
	data, err := os.ReadFile(s.metadataPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read thread %s: %w", id, err)
	}

	var t Thread
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse thread %s: %w", id, err)
	}
	return &t, nil
}

// List returns every thread summary, most recently updated first. The
// index is reconciled with the thread directories before returning, so
// threads created or removed out of band still show up correctly.
func (s *Store) List() ([]IndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reconcile(); err != nil {
		return nil, err
	}

	out := make([]IndexEntry, len(s.idx.Chats))
	copy(out, s.idx.Chats)
	return out, nil
}

// reconcile syncs the index with the directories on disk. Callers hold
// s.mu. Running it twice in a row is a no-op.
func (s *Store) reconcile() error {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return fmt.Errorf("scan chats dir: %w", err)
	}

	onDisk := make(map[string]bool)
	changed := false

	byID := make(map[string]*IndexEntry, len(s.idx.Chats))
	for i := range s.idx.Chats {
		byID[s.idx.Chats[i].ID] = &s.idx.Chats[i]
	}

	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		id := e.Name()
		onDisk[id] = true

		t, err := s.Get(id)
		if err != nil || t == nil {
			s.logger.Warn("skipping unreadable chat during reconcile", "chat_id", id, "error", err)
			continue
		}

		if existing, ok := byID[id]; ok {
			if t.UpdatedAt.After(existing.UpdatedAt) {
				existing.Title = t.Title
				existing.UpdatedAt = t.UpdatedAt
				existing.MessageCount = len(t.Messages)
				changed = true
			}
		} else {
			s.idx.Chats = append(s.idx.Chats, IndexEntry{
				ID:           id,
				Title:        t.Title,
				CreatedAt:    t.CreatedAt,
				UpdatedAt:    t.UpdatedAt,
				MessageCount: len(t.Messages),
			})
			changed = true
		}
	}

	// Drop index entries whose directories are gone.
	kept := s.idx.Chats[:0]
	for _, c := range s.idx.Chats {
		if onDisk[c.ID] {
			kept = append(kept, c)
		} else {
			changed = true
		}
	}
	s.idx.Chats = kept

	sort.SliceStable(s.idx.Chats, func(i, j int) bool {
		return s.idx.Chats[i].UpdatedAt.After(s.idx.Chats[j].UpdatedAt)
	})

	if changed {
		return s.saveIndex()
	}
	return nil
}

// Append adds a message to a thread, creating the thread on disk if it
// does not exist yet. mediaPath, when non-empty, is reduced to its
// filename and recorded on the message. The thread title is derived
// from the first user message and locked in thereafter.
func (s *Store) Append(id string, msg Message, mediaPath string) error {
	if !validID(id) {
		return fmt.Errorf("invalid chat id %q", id)
	}
	if err := os.MkdirAll(s.MediaDir(id), 0755); err != nil {
		return fmt.Errorf("create chat dir: %w", err)
	}

	t, err := s.Get(id)
	if err != nil {
		s.logger.Warn("unreadable thread metadata, starting fresh", "chat_id", id, "error", err)
	}
	if t == nil {
		now := time.Now().UTC()
		t = &Thread{
			ID:        id,
			Title:     defaultTitle,
			CreatedAt: now,
			Messages:  []Message{},
		}
	}

	msg.Timestamp = time.Now().UTC()

	if mediaPath != "" {
		msg.MediaFilename = filepath.Base(mediaPath)
		// Last-resort mode inference from the media filename prefix.
		if msg.Mode == "" {
			if strings.HasPrefix(msg.MediaFilename, "image_") {
				msg.Mode = modality.Image
			} else if strings.HasPrefix(msg.MediaFilename, "audio_") {
				msg.Mode = modality.Audio
			}
		}
	}

	t.Messages = append(t.Messages, msg)
	t.UpdatedAt = msg.Timestamp
	t.MessageCount = len(t.Messages)

	if (t.Title == defaultTitle || t.Title == "Untitled Chat") && msg.Role == "user" && msg.Content != "" {
		t.Title = deriveTitle(msg.Content)
	}

	if err := s.saveThread(t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i := range s.idx.Chats {
		if s.idx.Chats[i].ID == id {
			s.idx.Chats[i].Title = t.Title
			s.idx.Chats[i].UpdatedAt = t.UpdatedAt
			s.idx.Chats[i].MessageCount = t.MessageCount
			found = true
			break
		}
	}
	if !found {
		s.idx.Chats = append(s.idx.Chats, IndexEntry{
			ID:           id,
			Title:        t.Title,
			CreatedAt:    t.CreatedAt,
			UpdatedAt:    t.UpdatedAt,
			MessageCount: t.MessageCount,
		})
	}
	sort.SliceStable(s.idx.Chats, func(i, j int) bool {
		return s.idx.Chats[i].UpdatedAt.After(s.idx.Chats[j].UpdatedAt)
	})

	return s.saveIndex()
}

// deriveTitle builds a thread title from the first user message:
// newlines collapsed, trimmed, and truncated with an ellipsis.
func deriveTitle(content string) string {
	title := strings.TrimSpace(strings.ReplaceAll(content, "\n", " "))
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		title = string(runes[:maxTitleRunes]) + "..."
	}
	if title == "" {
		return defaultTitle
	}
	return title
}

// Delete removes a thread directory and its index entry. Deleting a
// missing thread is an error; a partial failure still cleans up the
// index so the thread stops being listed.
func (s *Store) Delete(id string) error {
	if !validID(id) {
		return fmt.Errorf("chat %s not found", id)
	}
	dir := s.threadDir(id)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("chat %s not found", id)
	}

	rmErr := os.RemoveAll(dir)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.idx.Chats[:0]
	for _, c := range s.idx.Chats {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	s.idx.Chats = kept
	if err := s.saveIndex(); err != nil {
		return err
	}

	if rmErr != nil {
		return fmt.Errorf("delete chat %s: %w", id, rmErr)
	}

	s.logger.Info("chat deleted", "chat_id", id)
	return nil
}
