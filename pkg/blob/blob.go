// Package blob stores raw scan results and rendered reports in object storage.
package blob

import (
	"context"
	"strings"
	"unicode"
)

// Handle describes a stored object.
type Handle struct {
	Bucket    string `json:"bucket"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	SelfLink  string `json:"selfLink,omitempty"`
	MediaLink string `json:"mediaLink,omitempty"`
}

// Store puts and gets whole objects.
type Store interface {
	// PutObject writes data under bucket/name, replacing any existing object.
	PutObject(ctx context.Context, bucket, name string, data []byte, contentType string) (*Handle, error)
	// GetObject reads the object at bucket/name.
	GetObject(ctx context.Context, bucket, name string) ([]byte, error)
	// Close releases the underlying client.
	Close() error
}

// unsafeChars cannot appear in object names that are mirrored to local filesystems.
const unsafeChars = `<>:"/\|?*`

// Sanitize replaces path separators, characters unsafe on common filesystems,
// control characters and whitespace with underscores.
func Sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(unsafeChars, r) || unicode.IsControl(r) || unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, name)
}
