// Package attachment turns remote file references into inlined, ready-to-render
// attachments. Resolution is always best-effort: an attachment is optional
// relative to its parent message, so callers log failures and move on.
package attachment

import (
	"context"
	"encoding/base64"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/pkg/errors"

	"chat-client/internal/api"
	"chat-client/internal/models"
)

const defaultFilename = "file"

// Ref points at a file stored out-of-band in the object store.
type Ref struct {
	// FileURL is either a bare object path or an absolute URL.
	FileURL string
	// Name is an explicit filename, when the backend recorded one.
	Name string
}

type Resolver interface {
	Resolve(ctx context.Context, ref Ref) (*models.Attachment, error)
}

// StoreResolver resolves references through the backend's presigned-download
// endpoint and fetches content directly from the object store.
type StoreResolver struct {
	store api.StorageAPI
}

var _ Resolver = (*StoreResolver)(nil)

func NewStoreResolver(store api.StorageAPI) *StoreResolver {
	return &StoreResolver{store: store}
}

func (r *StoreResolver) Resolve(ctx context.Context, ref Ref) (*models.Attachment, error) {
	if ref.FileURL == "" {
		return nil, errors.New("empty file reference")
	}

	cleanURL, err := normalizeRef(ref.FileURL)
	if err != nil {
		return nil, errors.Wrap(err, "normalize file reference")
	}

	presignedURL, err := r.store.PresignedDownload(ctx, cleanURL)
	if err != nil {
		return nil, errors.Wrapf(err, "presign %s", cleanURL)
	}

	raw, err := r.store.Fetch(ctx, presignedURL)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s", cleanURL)
	}

	return &models.Attachment{
		Filename: filenameFor(ref, cleanURL),
		MimeType: mimeTypeFor(ref.FileURL),
		Data:     base64.StdEncoding.EncodeToString(raw),
		Size:     len(raw),
	}, nil
}

// normalizeRef reduces an absolute URL to its object path; bare paths pass
// through untouched.
func normalizeRef(fileURL string) (string, error) {
	if !strings.HasPrefix(fileURL, "http://") && !strings.HasPrefix(fileURL, "https://") {
		return fileURL, nil
	}
	u, err := url.Parse(fileURL)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(u.Path, "/"), nil
}

func filenameFor(ref Ref, cleanURL string) string {
	if ref.Name != "" {
		return ref.Name
	}
	if base := path.Base(cleanURL); base != "" && base != "." && base != "/" {
		return base
	}
	return defaultFilename
}

func mimeTypeFor(fileURL string) string {
	// The extension lives on the path; a query or fragment would leak into it.
	if i := strings.IndexAny(fileURL, "?#"); i >= 0 {
		fileURL = fileURL[:i]
	}
	ext := strings.ToLower(path.Ext(fileURL))
	if mt := mime.TypeByExtension(ext); mt != "" {
		return mt
	}
	return "application/octet-stream"
}
