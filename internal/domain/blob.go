package domain

import (
	"context"
	"io"
)

// BlobWriter uploads objects to the settlement archive.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader reads objects back from the settlement archive. Get fails with
// ErrNotFound for a missing object.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// SettlementArchiver keeps a cold copy of every settlement and returns the
// path it was written to.
type SettlementArchiver interface {
	ArchiveSettlement(ctx context.Context, s Settlement) (string, error)
}

