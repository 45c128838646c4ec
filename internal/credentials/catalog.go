package credentials

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pseudoapp/pseudo/internal/modality"
)

// Provider is one configured generation backend within a modality. The
// position of a provider in its ModeConfig, and of a model within the
// provider, is the fallback trial priority.
type Provider struct {
	Name         string
	APIKey       string
	Organization string
	Models       []string

	// HasAPIKey records whether the credentials file declared an
	// api_key field at all. The dispatcher skips providers that
	// declare a key but leave it blank; providers that omit the field
	// entirely are attempted as-is.
	HasAPIKey bool
}

// ModeConfig is the ordered provider queue for one modality.
type ModeConfig struct {
	Providers []Provider
}

// Catalog is the full provider configuration, keyed by modality.
type Catalog struct {
	Modes map[modality.Mode]*ModeConfig
}

// Default returns the skeleton catalog written when no credentials file
// exists: all three modalities with empty provider queues.
func Default() *Catalog {
	modes := make(map[modality.Mode]*ModeConfig, 3)
	for _, m := range modality.All() {
		modes[m] = &ModeConfig{}
	}
	return &Catalog{Modes: modes}
}

// Mode returns the provider queue for a modality, or nil if the
// catalog has no entry for it.
func (c *Catalog) Mode(m modality.Mode) *ModeConfig {
	if c == nil || c.Modes == nil {
		return nil
	}
	return c.Modes[m]
}

// Provider returns the named provider within the queue, if present.
func (mc *ModeConfig) Provider(name string) (*Provider, bool) {
	if mc == nil {
		return nil, false
	}
	for i := range mc.Providers {
		if mc.Providers[i].Name == name {
			return &mc.Providers[i], true
		}
	}
	return nil, false
}

// Upsert replaces the named provider in place, preserving its queue
// position, or appends it to the end of the queue if absent. Appending
// gives new providers the lowest trial priority, matching how entries
// accumulate in the credentials file.
func (mc *ModeConfig) Upsert(p Provider) {
	for i := range mc.Providers {
		if mc.Providers[i].Name == p.Name {
			mc.Providers[i] = p
			return
		}
	}
	mc.Providers = append(mc.Providers, p)
}

// Remove deletes the named provider from the queue. Returns false if it
// was not present.
func (mc *ModeConfig) Remove(name string) bool {
	for i := range mc.Providers {
		if mc.Providers[i].Name == name {
			mc.Providers = append(mc.Providers[:i], mc.Providers[i+1:]...)
			return true
		}
	}
	return false
}

// SetAPIKey updates the key of the named provider in the given modality.
// Returns false if the provider is not configured there.
func (c *Catalog) SetAPIKey(m modality.Mode, name, key string) bool {
	p, ok := c.Mode(m).Provider(name)
	if !ok {
		return false
	}
	p.APIKey = key
	p.HasAPIKey = true
	return true
}

// DefaultModels returns the model queue a provider gets when it is
// added without an explicit model list. Order matters: the first model
// is tried first. Only providers with an invoke client get defaults;
// anything else must name its models explicitly.
func DefaultModels(provider string, mode modality.Mode) []string {
	switch provider {
	case "openai":
		switch mode {
		case modality.Text:
			return []string{"gpt-4", "gpt-3.5-turbo"}
		case modality.Image:
			return []string{"dall-e-3"}
		case modality.Audio:
			return []string{"tts-1"}
		}
	case "anthropic":
		if mode == modality.Text {
			return []string{"claude-3-opus-20240229", "claude-3-sonnet-20240229"}
		}
	case "ollama":
		if mode == modality.Text {
			return []string{"llama2"}
		}
	}
	return nil
}

// providerJSON is the wire shape of one provider entry. APIKey is a
// pointer so that a blank key in the file ("api_key": "") survives a
// round trip distinct from an omitted one.
type providerJSON struct {
	APIKey       *string  `json:"api_key,omitempty"`
	Organization string   `json:"organization,omitempty"`
	Models       []string `json:"models,omitempty"`
}

// UnmarshalJSON decodes {"providers": {...}} while preserving the order
// providers appear in the file. encoding/json maps would destroy the
// queue order that dispatch depends on, so the provider object is walked
// token by token.
func (mc *ModeConfig) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	if err := expectDelim(dec, '{'); err != nil {
		return fmt.Errorf("mode config: %w", err)
	}
	for dec.More() {
		key, err := stringToken(dec)
		if err != nil {
			return fmt.Errorf("mode config key: %w", err)
		}
		if key != "providers" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return fmt.Errorf("mode config %q: %w", key, err)
			}
			continue
		}

		if err := expectDelim(dec, '{'); err != nil {
			return fmt.Errorf("providers: %w", err)
		}
		for dec.More() {
			name, err := stringToken(dec)
			if err != nil {
				return fmt.Errorf("provider name: %w", err)
			}
			var pj providerJSON
			if err := dec.Decode(&pj); err != nil {
				return fmt.Errorf("provider %q: %w", name, err)
			}
			p := Provider{
				Name:         name,
				Organization: pj.Organization,
				Models:       pj.Models,
			}
			if pj.APIKey != nil {
				p.APIKey = *pj.APIKey
				p.HasAPIKey = true
			}
			mc.Providers = append(mc.Providers, p)
		}
		if err := expectDelim(dec, '}'); err != nil {
			return fmt.Errorf("providers: %w", err)
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return fmt.Errorf("mode config: %w", err)
	}
	return nil
}

// MarshalJSON writes providers back in queue order.
func (mc ModeConfig) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"providers":{`)
	for i, p := range mc.Providers {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(p.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')

		pj := providerJSON{
			Organization: p.Organization,
			Models:       p.Models,
		}
		if p.HasAPIKey {
			key := p.APIKey
			pj.APIKey = &key
		}
		body, err := json.Marshal(pj)
		if err != nil {
			return nil, err
		}
		buf.Write(body)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// catalogJSON is the top-level file wrapper.
type catalogJSON struct {
	Modes map[modality.Mode]*ModeConfig `json:"modes"`
}

// UnmarshalJSON decodes the {"modes": {...}} wrapper. Mode order is not
// semantically meaningful, only provider order within a mode.
func (c *Catalog) UnmarshalJSON(data []byte) error {
	var cj catalogJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return err
	}
	if cj.Modes == nil {
		cj.Modes = make(map[modality.Mode]*ModeConfig)
	}
	c.Modes = cj.Modes
	return nil
}

// MarshalJSON writes modalities in canonical order so that saving an
// unchanged catalog produces an identical file.
func (c Catalog) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"modes":{`)
	first := true
	for _, m := range modality.All() {
		mc, ok := c.Modes[m]
		if !ok {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		fmt.Fprintf(&buf, "%q:", string(m))
		body, err := json.Marshal(mc)
		if err != nil {
			return nil, err
		}
		buf.Write(body)
	}
	// Any non-standard modes in the file are preserved after the known ones.
	for m, mc := range c.Modes {
		if m.Valid() {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		fmt.Fprintf(&buf, "%q:", string(m))
		body, err := json.Marshal(mc)
		if err != nil {
			return nil, err
		}
		buf.Write(body)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	d, ok := tok.(json.Delim)
	if !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func stringToken(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	s, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %v", tok)
	}
	return s, nil
}
