// Package modality defines the content modalities Pseudo can route:
// text, image, and audio. The modality of a request decides which
// provider queue the dispatcher walks and whether a response produces
// a media artifact.
package modality

import "strings"

// Mode identifies a content modality.
type Mode string

const (
	Text  Mode = "text"
	Image Mode = "image"
	Audio Mode = "audio"
)

// All lists the supported modalities in their canonical order.
func All() []Mode {
	return []Mode{Text, Image, Audio}
}

// Parse converts a string to a Mode. Matching is case-insensitive and
// trims surrounding whitespace. Returns false for anything that is not
// one of the three known modalities.
func Parse(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case Text:
		return Text, true
	case Image:
		return Image, true
	case Audio:
		return Audio, true
	default:
		return "", false
	}
}

// Valid reports whether m is one of the three known modalities.
func (m Mode) Valid() bool {
	return m == Text || m == Image || m == Audio
}

// Media reports whether responses in this modality are binary artifacts
// that need to be persisted to disk rather than stored inline.
func (m Mode) Media() bool {
	return m == Image || m == Audio
}
