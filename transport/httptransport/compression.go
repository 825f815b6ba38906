package httptransport

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// errResponseTooLarge is a sentinel error for decompressed size limit
// violations on response bodies.
var errResponseTooLarge = errors.New("response exceeds maximum size limit")

// maxSizeReader wraps an io.Reader to enforce a hard size limit.
type maxSizeReader struct {
	reader   io.Reader
	limit    int64
	consumed int64
}

func (r *maxSizeReader) Read(p []byte) (int, error) {
	if r.consumed >= r.limit {
		return 0, errResponseTooLarge
	}

	maxRead := r.limit - r.consumed
	if int64(len(p)) > maxRead {
		p = p[:maxRead]
	}

	n, err := r.reader.Read(p)
	r.consumed += int64(n)

	if r.consumed >= r.limit && err == nil {
		// At the limit but there might be more data. Peek one byte to
		// tell a body that exactly fits from one that overflows.
		var dummy [1]byte
		if _, peekErr := r.reader.Read(dummy[:]); peekErr == nil {
			return n, errResponseTooLarge
		}
	}

	return n, err
}

// createSafeResponseReader wraps a response body so both the wire size and
// the decompressed size stay within limits. Returns the reader and a
// cleanup function.
func createSafeResponseReader(resp *http.Response, limits Limits) (io.Reader, func(), error) {
	maxBody := limits.MaxBodyBytes
	if maxBody == 0 {
		maxBody = 8 << 20
	}
	maxDecompressed := limits.MaxDecompressedBytes
	if maxDecompressed == 0 {
		maxDecompressed = 64 << 20
	}

	if resp.ContentLength > 0 && resp.ContentLength > maxBody {
		return nil, func() {}, fmt.Errorf("response body too large: %d bytes (max %d)", resp.ContentLength, maxBody)
	}

	limited := &maxSizeReader{reader: resp.Body, limit: maxBody}

	encoding := strings.TrimSpace(strings.ToLower(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "":
		return limited, func() {}, nil
	case "gzip":
	default:
		return nil, func() {}, fmt.Errorf("unsupported content encoding: %s (only gzip is supported)", encoding)
	}

	gzReader, err := gzip.NewReader(limited)
	if err != nil {
		return nil, func() {}, fmt.Errorf("invalid gzip data: %w", err)
	}

	reader := &maxSizeReader{reader: gzReader, limit: maxDecompressed}
	cleanup := func() { gzReader.Close() }
	return reader, cleanup, nil
}
