package chats

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pseudoapp/pseudo/internal/modality"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCreate_Persisted(t *testing.T) {
	s := newStore(t)

	id, err := s.Create(true)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("empty chat id")
	}

	// Directory, media dir, and metadata must exist.
	if _, err := os.Stat(s.MediaDir(id)); err != nil {
		t.Errorf("media dir missing: %v", err)
	}
	th, err := s.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if th == nil {
		t.Fatal("thread not found after Create")
	}
	if th.Title != "New Chat" {
		t.Errorf("title = %q", th.Title)
	}
	if len(th.Messages) != 0 {
		t.Errorf("expected empty transcript, got %d messages", len(th.Messages))
	}

	list, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != id {
		t.Errorf("index = %+v", list)
	}
}

func TestCreate_Unpersisted(t *testing.T) {
	s := newStore(t)

	id, err := s.Create(false)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(s.threadDir(id)); !os.IsNotExist(err) {
		t.Error("unpersisted chat should have no directory")
	}
	th, err := s.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if th != nil {
		t.Error("unpersisted chat should not be loadable")
	}

	// First append materializes it.
	if err := s.Append(id, Message{Role: "user", Content: "hello"}, ""); err != nil {
		t.Fatal(err)
	}
	th, _ = s.Get(id)
	if th == nil || len(th.Messages) != 1 {
		t.Fatalf("thread after append = %+v", th)
	}
}

func TestGet_Missing(t *testing.T) {
	s := newStore(t)
	th, err := s.Get("no-such-chat")
	if err != nil {
		t.Fatalf("missing chat should not error: %v", err)
	}
	if th != nil {
		t.Error("missing chat should return nil")
	}
}

func TestAppend_OrderAndCount(t *testing.T) {
	s := newStore(t)
	id, _ := s.Create(true)

	s.Append(id, Message{Role: "user", Content: "first"}, "")
	s.Append(id, Message{Role: "assistant", Content: "second"}, "")
	s.Append(id, Message{Role: "user", Content: "third"}, "")

	th, _ := s.Get(id)
	if th.MessageCount != 3 || len(th.Messages) != 3 {
		t.Fatalf("count = %d, len = %d", th.MessageCount, len(th.Messages))
	}
	for i, want := range []string{"first", "second", "third"} {
		if th.Messages[i].Content != want {
			t.Errorf("message %d = %q, want %q", i, th.Messages[i].Content, want)
		}
	}
	for _, m := range th.Messages {
		if m.Timestamp.IsZero() {
			t.Error("message missing timestamp")
		}
	}
}

func TestAppend_TitleDerivation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"short", "tell me a joke", "tell me a joke"},
		{"long", strings.Repeat("a", 40), strings.Repeat("a", 30) + "..."},
		{"newlines", "line one\nline two", "line one line two"},
		{"exactly thirty", strings.Repeat("b", 30), strings.Repeat("b", 30)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			id, _ := s.Create(true)
			s.Append(id, Message{Role: "user", Content: tt.content}, "")

			th, _ := s.Get(id)
			if th.Title != tt.want {
				t.Errorf("title = %q, want %q", th.Title, tt.want)
			}
		})
	}
}

func TestAppend_TitleLocked(t *testing.T) {
	s := newStore(t)
	id, _ := s.Create(true)

	s.Append(id, Message{Role: "user", Content: "original title"}, "")
	s.Append(id, Message{Role: "user", Content: "a different message"}, "")

	th, _ := s.Get(id)
	if th.Title != "original title" {
		t.Errorf("title changed to %q", th.Title)
	}
}

func TestAppend_AssistantMessageDoesNotTitle(t *testing.T) {
	s := newStore(t)
	id, _ := s.Create(true)

	s.Append(id, Message{Role: "assistant", Content: "greeting from the machine"}, "")

	th, _ := s.Get(id)
	if th.Title != "New Chat" {
		t.Errorf("title = %q, want default", th.Title)
	}
}

func TestAppend_MediaFilename(t *testing.T) {
	s := newStore(t)
	id, _ := s.Create(true)

	err := s.Append(id, Message{Role: "assistant", Content: "Generated content"},
		"/some/deep/path/image_20250101_120000_abcd1234.png")
	if err != nil {
		t.Fatal(err)
	}

	th, _ := s.Get(id)
	m := th.Messages[0]
	if m.MediaFilename != "image_20250101_120000_abcd1234.png" {
		t.Errorf("media = %q, want bare filename", m.MediaFilename)
	}
	// Mode inferred from the filename prefix when unset.
	if m.Mode != modality.Image {
		t.Errorf("mode = %q, want image", m.Mode)
	}
}

func TestAppend_MediaModeInference(t *testing.T) {
	s := newStore(t)
	id, _ := s.Create(true)

	s.Append(id, Message{Role: "assistant"}, "audio_20250101_120000_ffff0000.mp3")
	s.Append(id, Message{Role: "assistant", Mode: modality.Image}, "audio_x.mp3")

	th, _ := s.Get(id)
	if th.Messages[0].Mode != modality.Audio {
		t.Errorf("mode = %q, want audio", th.Messages[0].Mode)
	}
	// Explicit mode wins over filename inference.
	if th.Messages[1].Mode != modality.Image {
		t.Errorf("mode = %q, want image", th.Messages[1].Mode)
	}
}

func TestList_SortedByUpdated(t *testing.T) {
	s := newStore(t)
	a, _ := s.Create(true)
	b, _ := s.Create(true)

	// Touch a after b so it sorts first.
	time.Sleep(10 * time.Millisecond)
	s.Append(a, Message{Role: "user", Content: "bump"}, "")

	list, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d", len(list))
	}
	if list[0].ID != a || list[1].ID != b {
		t.Errorf("order = [%s %s], want [%s %s]", list[0].ID, list[1].ID, a, b)
	}
}

func TestList_ReconcilesForeignDirectory(t *testing.T) {
	s := newStore(t)

	// Simulate a thread created by another process: directory and
	// metadata exist but the index knows nothing about it.
	dir := filepath.Join(s.baseDir, "11111111-2222-4333-8444-555555555555")
	os.MkdirAll(filepath.Join(dir, "media"), 0755)
	meta := `{
		"id": "11111111-2222-4333-8444-555555555555",
		"title": "imported",
		"created_at": "2025-01-01T00:00:00Z",
		"updated_at": "2025-01-02T00:00:00Z",
		"messages": [{"role":"user","content":"hi","timestamp":"2025-01-01T00:00:00Z"}],
		"message_count": 1
	}`
	os.WriteFile(filepath.Join(dir, "metadata.json"), []byte(meta), 0644)

	list, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("len = %d", len(list))
	}
	if list[0].Title != "imported" || list[0].MessageCount != 1 {
		t.Errorf("entry = %+v", list[0])
	}
}

func TestList_DropsOrphanedIndexEntry(t *testing.T) {
	s := newStore(t)
	id, _ := s.Create(true)

	// Remove the directory behind the index's back.
	os.RemoveAll(s.threadDir(id))

	list, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("expected orphan dropped, got %+v", list)
	}
}

func TestList_ReconcileIdempotent(t *testing.T) {
	s := newStore(t)
	s.Create(true)
	s.Create(true)

	first, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(second) {
		t.Fatalf("list changed between calls: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("entry %d changed: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestDelete(t *testing.T) {
	s := newStore(t)
	id, _ := s.Create(true)
	s.Append(id, Message{Role: "user", Content: "hi"}, "")

	if err := s.Delete(id); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(s.threadDir(id)); !os.IsNotExist(err) {
		t.Error("thread dir still exists")
	}
	list, _ := s.List()
	if len(list) != 0 {
		t.Errorf("index still lists deleted chat: %+v", list)
	}
}

func TestDelete_Missing(t *testing.T) {
	s := newStore(t)
	if err := s.Delete("no-such-chat"); err == nil {
		t.Fatal("expected error deleting missing chat")
	}
}

func TestDelete_RejectsPathEscape(t *testing.T) {
	tmp := t.TempDir()
	sentinel := filepath.Join(tmp, "credentials.json")
	if err := os.WriteFile(sentinel, []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}
	s, err := New(filepath.Join(tmp, "chat_history"), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatal(err)
	}

	// The mux decodes percent-escapes before handlers see path values,
	// so the store must refuse ids that name anything above a thread dir.
	for _, id := range []string{"..", ".", "../..", "a/b", `a\b`, ".hidden", ""} {
		if err := s.Delete(id); err == nil {
			t.Errorf("Delete(%q) succeeded", id)
		}
	}
	if _, err := os.Stat(sentinel); err != nil {
		t.Fatalf("sentinel gone after Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmp, "chat_history")); err != nil {
		t.Fatalf("store root gone after Delete: %v", err)
	}
}

func TestGet_RejectsPathEscape(t *testing.T) {
	s := newStore(t)
	for _, id := range []string{"..", ".", "../other", ".hidden"} {
		th, err := s.Get(id)
		if err != nil {
			t.Fatal(err)
		}
		if th != nil {
			t.Errorf("Get(%q) = %+v", id, th)
		}
	}
}

func TestAppend_RejectsPathEscape(t *testing.T) {
	s := newStore(t)
	if err := s.Append("..", Message{Role: "user", Content: "hi"}, ""); err == nil {
		t.Fatal("expected error appending to invalid id")
	}
}

func TestNew_SurvivesCorruptIndex(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "history.json"), []byte("{not json"), 0644)

	s, err := New(dir, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatal(err)
	}
	list, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("list = %+v", list)
	}
}

func TestNew_ReloadsExistingIndex(t *testing.T) {
	dir := t.TempDir()
	s1, _ := New(dir, slog.New(slog.DiscardHandler))
	id, _ := s1.Create(true)

	s2, err := New(dir, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatal(err)
	}
	list, _ := s2.List()
	if len(list) != 1 || list[0].ID != id {
		t.Errorf("reloaded index = %+v", list)
	}
}
