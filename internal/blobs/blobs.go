// Package blobs is the blob store gateway: path-keyed upload, download and
// existence checks in a single bucket. A missing object is reported as
// absent, not as an error.
package blobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultContentType is used when nothing better is known.
const DefaultContentType = "application/octet-stream"

// sniffLen matches the header size mimetype inspects by default.
const sniffLen = 3072

// Object is a downloaded blob. The caller closes Body.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Store is implemented by blob store backends.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Get(ctx context.Context, key string) (*Object, bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Bucket() string
}

// Sniff returns a reader equivalent to r and the content type to store it
// under. A specific declared type wins; otherwise the leading bytes decide.
func Sniff(r io.Reader, declared string) (io.Reader, string, error) {
	if declared != "" && declared != DefaultContentType {
		return r, declared, nil
	}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, "", fmt.Errorf("reading upload header: %w", err)
	}
	head = head[:n]
	return io.MultiReader(bytes.NewReader(head), r), mimetype.Detect(head).String(), nil
}

// ContentTypeFor infers a content type from a file name's extension.
func ContentTypeFor(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return DefaultContentType
	}
	if ext == ".csv" {
		return "text/csv"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return DefaultContentType
}
