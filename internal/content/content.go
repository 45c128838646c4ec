// Package content defines the closed union of shapes a provider response
// can take. Providers construct the variant that matches what their API
// returned; consumers switch on Kind instead of inspecting the payload.
package content

// Kind identifies which variant a Content value holds.
type Kind int

const (
	// KindNone is the zero value: no content.
	KindNone Kind = iota

	// KindText is inline text (chat completions).
	KindText

	// KindBytes is raw binary data returned in the response body.
	KindBytes

	// KindURL is a remote location the artifact must be fetched from.
	KindURL

	// KindBase64 is base64-encoded binary data embedded in the response.
	KindBase64

	// KindFile is a path to an artifact already on the local filesystem.
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBytes:
		return "bytes"
	case KindURL:
		return "url"
	case KindBase64:
		return "base64"
	case KindFile:
		return "file"
	default:
		return "none"
	}
}

// Content is a tagged union of the representations a generation backend
// can hand back. The zero value is empty.
type Content struct {
	kind Kind
	str  string
	data []byte
}

// Text wraps an inline text response.
func Text(s string) Content { return Content{kind: KindText, str: s} }

// Bytes wraps raw binary data.
func Bytes(b []byte) Content { return Content{kind: KindBytes, data: b} }

// URL wraps a remote artifact location.
func URL(u string) Content { return Content{kind: KindURL, str: u} }

// Base64 wraps base64-encoded binary data.
func Base64(s string) Content { return Content{kind: KindBase64, str: s} }

// File wraps a local filesystem path.
func File(path string) Content { return Content{kind: KindFile, str: path} }

// Kind returns the variant tag.
func (c Content) Kind() Kind { return c.kind }

// Empty reports whether the content carries no usable payload. An empty
// result from a provider is treated as a failure by the dispatcher.
func (c Content) Empty() bool {
	switch c.kind {
	case KindBytes:
		return len(c.data) == 0
	case KindNone:
		return true
	default:
		return c.str == ""
	}
}

// String returns the string payload for text, URL, base64, and file
// variants. It returns "" for bytes.
func (c Content) String() string { return c.str }

// Data returns the byte payload for the bytes variant, nil otherwise.
func (c Content) Data() []byte { return c.data }
