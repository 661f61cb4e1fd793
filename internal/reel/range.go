package reel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxWindowBytes caps how many bytes a single range request is served,
// regardless of the range end the client asked for. Clients consume a blob
// with successive range requests.
const MaxWindowBytes = 1_000_000

var (
	// ErrMissingRange reports a request without a usable Range header.
	// Full-content reads are not supported; the header is mandatory.
	ErrMissingRange = errors.New("range header is required")

	// ErrUnsatisfiableRange reports a range start outside the blob.
	ErrUnsatisfiableRange = errors.New("range start outside blob bounds")
)

// ByteRange is a resolved, inclusive byte range within a blob.
type ByteRange struct {
	Start int64
	End   int64
	Total int64
}

// ContentLength returns the number of bytes the range covers.
func (b ByteRange) ContentLength() int64 {
	return b.End - b.Start + 1
}

// ContentRange renders the Content-Range header value for the range.
func (b ByteRange) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", b.Start, b.End, b.Total)
}

// ResolveRange parses a "bytes=<start>-[<end>]" Range header against a blob
// of the given length. Only the leading offset is honored: the end is always
// min(start+MaxWindowBytes-1, length-1), so no request is served more than
// one window.
func ResolveRange(header string, length int64) (ByteRange, error) {
	if header == "" {
		return ByteRange{}, ErrMissingRange
	}

	spec := strings.TrimPrefix(header, "bytes=")
	if spec == header {
		return ByteRange{}, fmt.Errorf("%w: unsupported unit in %q", ErrMissingRange, header)
	}

	startStr, _, _ := strings.Cut(spec, "-")
	start, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil {
		return ByteRange{}, fmt.Errorf("%w: no leading offset in %q", ErrMissingRange, header)
	}

	if start < 0 || start >= length {
		return ByteRange{}, fmt.Errorf("%w: start %d, length %d", ErrUnsatisfiableRange, start, length)
	}

	end := start + MaxWindowBytes - 1
	if end > length-1 {
		end = length - 1
	}

	return ByteRange{Start: start, End: end, Total: length}, nil
}
