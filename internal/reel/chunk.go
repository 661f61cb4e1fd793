package reel

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// DefaultChunkSize is the fixed chunk size applied to every upload. It is a
// service-wide constant, not negotiated per request; the size used for a blob
// is recorded on its metadata so existing blobs stay readable if the
// configuration ever changes.
const DefaultChunkSize = 1 << 20 // 1 MiB

// ChunkRef locates one stored chunk of a blob.
type ChunkRef struct {
	Seq  int64
	Key  string
	Size int64
}

// chunkKey returns the storage key for chunk seq of a content generation.
// The prefix is a generation id, not the blob id, so a content replace can
// write its chunks before the old generation is removed without key
// collisions.
func chunkKey(prefix string, seq int64) string {
	return fmt.Sprintf("%s/%08d", prefix, seq)
}

// writeChunks consumes r in order, persisting units of exactly chunkSize
// bytes (fewer for the terminal partial chunk) through engine with strictly
// increasing sequence indices starting at 0. It returns the ordered chunk
// references and the total byte count consumed. On any failure it stops
// immediately and returns the references written so far; the caller owns
// their cleanup and must not commit a blob record.
func writeChunks(ctx context.Context, engine ChunkEngine, prefix string, r io.Reader, chunkSize int64) ([]ChunkRef, int64, error) {
	if chunkSize <= 0 {
		return nil, 0, fmt.Errorf("invalid chunk size %d", chunkSize)
	}

	var (
		refs  []ChunkRef
		total int64
	)

	buf := make([]byte, chunkSize)
	for seq := int64(0); ; seq++ {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			key := chunkKey(prefix, seq)
			if putErr := engine.PutChunk(ctx, key, buf[:n]); putErr != nil {
				return refs, total, fmt.Errorf("store chunk %d: %w", seq, putErr)
			}
			refs = append(refs, ChunkRef{Seq: seq, Key: key, Size: int64(n)})
			total += int64(n)
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return refs, total, nil
		}
		if err != nil {
			return refs, total, fmt.Errorf("read upload stream: %w", err)
		}
	}
}

// rangeReader lazily reassembles the inclusive byte range [start, end] of a
// blob from its stored chunks. It is forward-only and single-pass: each chunk
// is fetched from the engine only when the consumer has drained the previous
// one, so bytes reach the consumer before the whole range has been retrieved
// and a cancelled context stops further fetches.
type rangeReader struct {
	ctx    context.Context
	engine ChunkEngine
	refs   []ChunkRef

	next      int   // index into refs of the next chunk to fetch
	remaining int64 // bytes left to emit
	skip      int64 // leading bytes to discard from the next fetched chunk
	cur       []byte
}

// newRangeReader returns a reader over bytes [start, end] of the blob whose
// ordered chunk references are refs. The range must already be validated
// against the blob length; only the chunks overlapping it are ever fetched.
func newRangeReader(ctx context.Context, engine ChunkEngine, refs []ChunkRef, chunkSize int64, start int64, end int64) io.Reader {
	first := start / chunkSize
	last := end / chunkSize
	return &rangeReader{
		ctx:       ctx,
		engine:    engine,
		refs:      refs[first : last+1],
		remaining: end - start + 1,
		skip:      start % chunkSize,
	}
}

func (r *rangeReader) Read(p []byte) (int, error) {
	if r.remaining == 0 {
		return 0, io.EOF
	}

	for len(r.cur) == 0 {
		if r.next >= len(r.refs) {
			return 0, fmt.Errorf("chunk span exhausted with %d bytes unserved", r.remaining)
		}

		ref := r.refs[r.next]
		r.next++

		data, err := r.engine.GetChunk(r.ctx, ref.Key)
		if err != nil {
			return 0, fmt.Errorf("fetch chunk %d: %w", ref.Seq, err)
		}

		if r.skip > 0 {
			if r.skip >= int64(len(data)) {
				return 0, fmt.Errorf("chunk %d shorter than range offset", ref.Seq)
			}
			data = data[r.skip:]
			r.skip = 0
		}
		r.cur = data
	}

	n := len(r.cur)
	if int64(n) > r.remaining {
		n = int(r.remaining)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.cur[:n])
	r.cur = r.cur[n:]
	r.remaining -= int64(n)
	if r.remaining == 0 {
		r.cur = nil
	}
	return n, nil
}
