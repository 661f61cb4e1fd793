package reel

import "context"

// ChunkEngine persists raw chunk payloads under opaque storage keys. Each key
// identifies exactly one chunk and writes are atomic per chunk: a reader sees
// either the complete payload or nothing.
type ChunkEngine interface {
	// PutChunk durably stores data under key, replacing any previous payload.
	// data is only valid for the duration of the call.
	PutChunk(ctx context.Context, key string, data []byte) error

	// GetChunk retrieves the payload previously stored under key.
	GetChunk(ctx context.Context, key string) ([]byte, error)

	// DeleteChunk removes the payload stored under key. Deleting a key that
	// does not exist is not an error.
	DeleteChunk(ctx context.Context, key string) error
}
