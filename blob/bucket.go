// Package blob stores message attachments under media-kind folders and
// resolves them to public URLs.
package blob

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Kind classifies an attachment once, at upload time. Render layers carry
// the kind alongside the reference instead of re-sniffing file extensions.
type Kind string

const (
	// KindAudio covers voice notes and other audio payloads.
	KindAudio Kind = "audio"
	// KindDocument covers PDF documents.
	KindDocument Kind = "document"
	// KindImage covers images and any payload without a more specific kind.
	KindImage Kind = "image"
)

// Folder returns the bucket folder one kind uploads into.
func (k Kind) Folder() string {
	switch k {
	case KindAudio:
		return "message-audio"
	case KindDocument:
		return "message-pdf"
	default:
		return "message-image"
	}
}

// KindForMIME maps a MIME type to an attachment kind. Unknown types fall
// back to the generic image kind.
func KindForMIME(mime string) Kind {
	switch {
	case strings.HasPrefix(mime, "audio/"):
		return KindAudio
	case strings.HasPrefix(mime, "application/pdf"):
		return KindDocument
	default:
		return KindImage
	}
}

// Attachment is one outgoing upload payload.
type Attachment struct {
	Name string
	Kind Kind
	Data io.Reader
}

// Bucket is a directory-backed blob store that resolves stored objects to
// URLs under a public base.
type Bucket struct {
	root    string
	baseURL string
}

// Open prepares the bucket directory layout and returns the bucket.
func Open(root, baseURL string) (*Bucket, error) {
	if root == "" {
		return nil, errors.New("bucket root is required")
	}
	for _, kind := range []Kind{KindAudio, KindDocument, KindImage} {
		if err := os.MkdirAll(filepath.Join(root, kind.Folder()), 0o700); err != nil {
			return nil, fmt.Errorf("create bucket folder %q: %w", kind.Folder(), err)
		}
	}
	return &Bucket{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Upload writes one attachment into its kind's folder under a
// collision-proof stored name and returns the public URL. A failed write
// leaves no partial object behind.
func (b *Bucket) Upload(name string, kind Kind, r io.Reader) (string, error) {
	if name == "" {
		return "", errors.New("attachment name is required")
	}
	if r == nil {
		return "", errors.New("attachment data is required")
	}

	stored := StoredName(name)
	dst := filepath.Join(b.root, kind.Folder(), stored)

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create blob %q: %w", stored, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("write blob %q: %w", stored, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("close blob %q: %w", stored, err)
	}

	return b.baseURL + "/" + path.Join(kind.Folder(), stored), nil
}

// StoredName disambiguates an upload name with a random suffix while
// keeping the original filename recoverable as a prefix: photo.png becomes
// photo.png<uuid>.png. A name without an extension gets the bare suffix.
func StoredName(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return name + uuid.NewString()
	}
	return name + uuid.NewString() + ext
}

// knownExtensions are the attachment extensions the client produces, in
// match priority order.
var knownExtensions = []string{".pdf", ".webm", ".png", ".jpg", ".jpeg", ".gif"}

// OriginalFilename recovers the display name from a stored name: the prefix
// ending at the first recognized extension occurrence. Names without a
// recognized extension are returned unchanged.
func OriginalFilename(stored string) string {
	lower := strings.ToLower(stored)
	for _, ext := range knownExtensions {
		if idx := strings.Index(lower, ext); idx != -1 {
			return stored[:idx+len(ext)]
		}
	}
	return stored
}

// TruncateFilename shortens a display name to at most max characters,
// appending an ellipsis. Non-positive max uses the default of 20.
func TruncateFilename(name string, max int) string {
	if max <= 0 {
		max = 20
	}
	if len(name) <= max {
		return name
	}
	return name[:max] + "..."
}
