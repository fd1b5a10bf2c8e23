// Package recordstore provides content-addressed, write-once storage for
// sealed record envelopes. Blobs are keyed by the hex SHA-256 of their
// content, so identical content maps to the same address and a repeated
// write is a no-op.
package recordstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrNotFound is returned when no blob exists for a content address.
var ErrNotFound = errors.New("record not found")

// Store is the contract for record storage backends.
type Store interface {
	// Put stores data and returns its content address. Storing content
	// that already exists returns the same address without rewriting.
	Put(ctx context.Context, data []byte) (string, error)

	// Get retrieves the blob for a content address.
	Get(ctx context.Context, cid string) ([]byte, error)

	// Has reports whether a blob exists for a content address.
	Has(ctx context.Context, cid string) (bool, error)
}

// CID computes the content address for a blob.
func CID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
