package storage

import (
	"context"
	"io"
	"time"
)

// Uploader stores immutable blobs. The realtime pipeline uses it to
// archive the raw audio of final utterance segments.
type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (storedPath string, err error)
}

// Signer produces short-lived download links for archived segments.
type Signer interface {
	SignedGetURL(ctx context.Context, objectName string, ttl time.Duration) (string, error)
}
