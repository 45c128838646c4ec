// Package dispatch walks the provider fallback queue for a modality and
// returns the first successful generation. Providers and models are
// tried strictly in catalog order; a failure moves on to the next
// candidate and a success stops the walk immediately.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pseudoapp/pseudo/internal/content"
	"github.com/pseudoapp/pseudo/internal/credentials"
	"github.com/pseudoapp/pseudo/internal/llm"
	"github.com/pseudoapp/pseudo/internal/modality"
)

// Result is a successful generation.
type Result struct {
	Content  content.Content
	Provider string
	Model    string
}

// Attempt records one failed provider/model trial.
type Attempt struct {
	Provider string
	Model    string
	Err      error
}

// NoProvidersError means the catalog has no usable candidates for the
// mode: every configured provider was skipped before a single request
// went out.
type NoProvidersError struct {
	Mode modality.Mode
}

func (e *NoProvidersError) Error() string {
	return fmt.Sprintf("no providers configured for %s generation: add a provider with models and an API key to the credentials file", e.Mode)
}

// ExhaustedError means every candidate was tried and every one failed.
type ExhaustedError struct {
	Mode     modality.Mode
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "all %s providers failed (%d attempts)", e.Mode, len(e.Attempts))
	for _, a := range e.Attempts {
		fmt.Fprintf(&sb, "; %s/%s: %v", a.Provider, a.Model, a.Err)
	}
	return sb.String()
}

// Eligible reports whether a provider should be attempted at all.
// A provider whose credentials file carries an api_key entry that is
// present but empty is treated as deliberately disabled, unless the
// provider runs locally and needs no key.
func Eligible(p *credentials.Provider) bool {
	if p.HasAPIKey && p.APIKey == "" && !llm.IsLocal(p.Name) {
		return false
	}
	return true
}

// Dispatcher runs generation requests through the fallback queue.
type Dispatcher struct {
	registry *llm.Registry
	logger   *slog.Logger
}

// New creates a Dispatcher.
func New(registry *llm.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, logger: logger}
}

// Dispatch tries every provider/model candidate for mode, in catalog
// order, and returns the first success. The error is a *NoProvidersError
// when nothing was attempted and an *ExhaustedError when everything
// failed.
func (d *Dispatcher) Dispatch(ctx context.Context, cat *credentials.Catalog, mode modality.Mode, payload string) (*Result, error) {
	mc := cat.Mode(mode)

	var attempts []Attempt
	tried := false

	if mc != nil {
		for i := range mc.Providers {
			p := &mc.Providers[i]

			if !Eligible(p) {
				d.logger.Debug("skipping provider with empty api key", "mode", mode, "provider", p.Name)
				continue
			}
			if len(p.Models) == 0 {
				d.logger.Debug("skipping provider with no models", "mode", mode, "provider", p.Name)
				continue
			}

			inv, ok := d.registry.Lookup(p.Name)
			if !ok {
				d.logger.Warn("provider not registered", "mode", mode, "provider", p.Name)
				continue
			}

			for _, model := range p.Models {
				tried = true
				result, err := inv.Invoke(ctx, llm.Request{
					Mode:         mode,
					Model:        model,
					Payload:      payload,
					APIKey:       p.APIKey,
					Organization: p.Organization,
				})
				if err != nil {
					d.logger.Warn("generation attempt failed",
						"mode", mode,
						"provider", p.Name,
						"model", model,
						"error", err,
					)
					attempts = append(attempts, Attempt{Provider: p.Name, Model: model, Err: err})
					continue
				}
				if result.Empty() {
					err := fmt.Errorf("empty result")
					d.logger.Warn("generation attempt returned nothing",
						"mode", mode,
						"provider", p.Name,
						"model", model,
					)
					attempts = append(attempts, Attempt{Provider: p.Name, Model: model, Err: err})
					continue
				}

				d.logger.Info("generation succeeded",
					"mode", mode,
					"provider", p.Name,
					"model", model,
				)
				return &Result{Content: result, Provider: p.Name, Model: model}, nil
			}
		}
	}

	if !tried {
		return nil, &NoProvidersError{Mode: mode}
	}
	return nil, &ExhaustedError{Mode: mode, Attempts: attempts}
}
