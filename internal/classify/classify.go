// Package classify determines what kind of output a request is asking
// for and strips the request down to the content to generate. A text
// model does the analysis; its reply follows a strict two-line contract
// that is parsed here.
package classify

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/pseudoapp/pseudo/internal/credentials"
	"github.com/pseudoapp/pseudo/internal/dispatch"
	"github.com/pseudoapp/pseudo/internal/llm"
	"github.com/pseudoapp/pseudo/internal/modality"
)

// systemPrompt instructs the classification model. The contract is two
// labeled lines; anything else is rejected and the next candidate tried.
const systemPrompt = `You are a content analyzer that determines both the type of content requested and extracts the actual content to be processed.

Based on the user's input, you must respond with EXACTLY this format:
` + "```" + `
mode: <mode>
content: <cleaned content>
` + "```" + `

Where <mode> is one of: 'text', 'image', or 'audio'
And <cleaned content> is the actual content to be processed (removing meta-instructions).

For example:
- If input is "give me an image of a red cat", respond with:
` + "```" + `
mode: image
content: a red cat
` + "```" + `

- If input is "create audio saying hello world", respond with:
` + "```" + `
mode: audio
content: hello world
` + "```" + `

- If input is "tell me about quantum physics", respond with:
` + "```" + `
mode: text
content: tell me about quantum physics
` + "```" + `

Always maintain the meaning of the original request while removing only the parts that are instructions about the mode.`

var codeBlockRe = regexp.MustCompile("(?s)```(.*?)```")

// Result is a classification outcome.
type Result struct {
	Mode    modality.Mode
	Content string
}

// Classifier asks text providers, in catalog order, to classify input.
type Classifier struct {
	registry *llm.Registry
	logger   *slog.Logger
}

// New creates a Classifier.
func New(registry *llm.Registry, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{registry: registry, logger: logger}
}

// Classify determines the modality and generation content of input.
// Text providers are tried in catalog order, first model only; a
// provider that errors or replies off-contract is skipped for the next.
// When every candidate fails the input is treated as a plain text
// request, passed through unchanged. Classify never returns an error:
// the fallback result is always usable.
func (c *Classifier) Classify(ctx context.Context, cat *credentials.Catalog, input string) Result {
	mc := cat.Mode(modality.Text)
	if mc != nil {
		for i := range mc.Providers {
			p := &mc.Providers[i]

			if !dispatch.Eligible(p) || len(p.Models) == 0 {
				continue
			}
			inv, ok := c.registry.Lookup(p.Name)
			if !ok {
				continue
			}

			model := p.Models[0]
			c.logger.Debug("classifying request", "provider", p.Name, "model", model)

			reply, err := inv.Invoke(ctx, llm.Request{
				Mode:         modality.Text,
				Model:        model,
				System:       systemPrompt,
				Payload:      input,
				APIKey:       p.APIKey,
				Organization: p.Organization,
			})
			if err != nil {
				c.logger.Warn("classification attempt failed",
					"provider", p.Name, "model", model, "error", err)
				continue
			}

			mode, cleaned, ok := parseReply(reply.String())
			if !ok {
				c.logger.Warn("classifier reply off-contract",
					"provider", p.Name, "model", model)
				continue
			}

			c.logger.Info("request classified",
				"mode", mode, "provider", p.Name, "model", model)
			return Result{Mode: mode, Content: cleaned}
		}
	}

	// No provider produced a usable classification. Treat the request
	// as plain text and pass the input through untouched.
	c.logger.Warn("classification failed, defaulting to text mode")
	return Result{Mode: modality.Text, Content: input}
}

// parseReply extracts the mode and content lines from a classifier
// reply. If a straight line scan comes up short, the text inside the
// first fenced code block is scanned as a second chance.
func parseReply(reply string) (modality.Mode, string, bool) {
	mode, cleaned := scanLines(reply)

	if mode == "" || cleaned == "" {
		if m := codeBlockRe.FindStringSubmatch(reply); m != nil {
			mode, cleaned = scanLines(m[1])
		}
	}

	parsed, ok := modality.Parse(mode)
	if !ok || cleaned == "" {
		return "", "", false
	}
	return parsed, cleaned, true
}

func scanLines(s string) (mode, content string) {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "mode:"); ok {
			mode = strings.ToLower(strings.TrimSpace(rest))
		} else if rest, ok := strings.CutPrefix(line, "content:"); ok {
			content = strings.TrimSpace(rest)
		}
	}
	return mode, content
}
