package credentials

import (
	"encoding/json"
	"testing"

	"github.com/pseudoapp/pseudo/internal/modality"
)

const orderedSample = `{
  "modes": {
    "text": {
      "providers": {
        "openai": {"api_key": "sk-1", "organization": "org-1", "models": ["gpt-4o", "gpt-4o-mini"]},
        "anthropic": {"api_key": "sk-2", "models": ["claude-sonnet"]},
        "ollama": {"models": ["llama3"]}
      }
    },
    "image": {
      "providers": {
        "openai": {"api_key": "sk-1", "models": ["dall-e-3"]}
      }
    },
    "audio": {"providers": {}}
  }
}`

func TestUnmarshal_PreservesProviderOrder(t *testing.T) {
	var cat Catalog
	if err := json.Unmarshal([]byte(orderedSample), &cat); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	text := cat.Mode(modality.Text)
	if text == nil {
		t.Fatal("text mode missing")
	}
	want := []string{"openai", "anthropic", "ollama"}
	if len(text.Providers) != len(want) {
		t.Fatalf("provider count = %d, want %d", len(text.Providers), len(want))
	}
	for i, name := range want {
		if text.Providers[i].Name != name {
			t.Errorf("provider[%d] = %q, want %q", i, text.Providers[i].Name, name)
		}
	}

	if got := text.Providers[0].Models; len(got) != 2 || got[0] != "gpt-4o" {
		t.Errorf("openai models = %v, want [gpt-4o gpt-4o-mini]", got)
	}
}

func TestUnmarshal_APIKeyPresence(t *testing.T) {
	var cat Catalog
	err := json.Unmarshal([]byte(`{
		"modes": {"text": {"providers": {
			"empty-key": {"api_key": "", "models": ["m"]},
			"no-key": {"models": ["m"]}
		}}}
	}`), &cat)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	text := cat.Mode(modality.Text)
	p, _ := text.Provider("empty-key")
	if !p.HasAPIKey || p.APIKey != "" {
		t.Errorf("empty-key: HasAPIKey=%v APIKey=%q, want declared-but-blank", p.HasAPIKey, p.APIKey)
	}
	p, _ = text.Provider("no-key")
	if p.HasAPIKey {
		t.Error("no-key: HasAPIKey should be false when the field is omitted")
	}
}

func TestMarshal_RoundTripKeepsOrder(t *testing.T) {
	var cat Catalog
	if err := json.Unmarshal([]byte(orderedSample), &cat); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	out, err := json.Marshal(&cat)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var again Catalog
	if err := json.Unmarshal(out, &again); err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}

	text := again.Mode(modality.Text)
	want := []string{"openai", "anthropic", "ollama"}
	for i, name := range want {
		if text.Providers[i].Name != name {
			t.Errorf("after round trip provider[%d] = %q, want %q", i, text.Providers[i].Name, name)
		}
	}
	if p, _ := text.Provider("ollama"); p.HasAPIKey {
		t.Error("ollama gained an api_key field through the round trip")
	}
}

func TestUpsert(t *testing.T) {
	mc := &ModeConfig{}
	mc.Upsert(Provider{Name: "a", Models: []string{"m1"}})
	mc.Upsert(Provider{Name: "b", Models: []string{"m2"}})
	mc.Upsert(Provider{Name: "a", Models: []string{"m1", "m3"}})

	if len(mc.Providers) != 2 {
		t.Fatalf("provider count = %d, want 2", len(mc.Providers))
	}
	if mc.Providers[0].Name != "a" || len(mc.Providers[0].Models) != 2 {
		t.Errorf("upsert should update in place, got %+v", mc.Providers[0])
	}
	if mc.Providers[1].Name != "b" {
		t.Errorf("provider[1] = %q, want b", mc.Providers[1].Name)
	}
}

func TestRemove(t *testing.T) {
	mc := &ModeConfig{Providers: []Provider{{Name: "a"}, {Name: "b"}, {Name: "c"}}}

	if !mc.Remove("b") {
		t.Fatal("Remove(b) = false, want true")
	}
	if mc.Remove("b") {
		t.Error("second Remove(b) should return false")
	}
	if len(mc.Providers) != 2 || mc.Providers[0].Name != "a" || mc.Providers[1].Name != "c" {
		t.Errorf("remaining providers = %+v", mc.Providers)
	}
}

func TestSetAPIKey(t *testing.T) {
	cat := Default()
	cat.Mode(modality.Text).Upsert(Provider{Name: "openai"})

	if !cat.SetAPIKey(modality.Text, "openai", "sk-new") {
		t.Fatal("SetAPIKey = false for configured provider")
	}
	p, _ := cat.Mode(modality.Text).Provider("openai")
	if p.APIKey != "sk-new" || !p.HasAPIKey {
		t.Errorf("key not applied: %+v", p)
	}

	if cat.SetAPIKey(modality.Image, "openai", "sk") {
		t.Error("SetAPIKey should fail for a mode the provider is not in")
	}
}
