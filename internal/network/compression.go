// File: internal/network/compression.go
package network

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

var (
	gzipReaderPool = sync.Pool{
		New: func() interface{} { return new(gzip.Reader) },
	}
	brotliReaderPool = sync.Pool{
		New: func() interface{} { return brotli.NewReader(nil) },
	}
	emptyReader = strings.NewReader("")
)

// AcceptEncoding is advertised on every outbound request.
const AcceptEncoding = "br, gzip, deflate"

// decodingBody closes the decoder chain and the underlying body together and
// returns pooled readers on close.
type decodingBody struct {
	io.Reader
	closers  []io.Closer
	original io.ReadCloser
	release  []func()
}

func (b *decodingBody) Close() error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c.Close())
	}
	for _, fn := range b.release {
		fn()
	}
	b.release = nil
	errs = append(errs, b.original.Close())
	return errors.Join(errs...)
}

// DecodeResponse replaces resp.Body with a reader that undoes every layer of
// Content-Encoding, last applied first. On error the body is already closed.
func DecodeResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	encodings := resp.Header.Values("Content-Encoding")
	if len(encodings) == 0 {
		return nil
	}

	body := &decodingBody{Reader: resp.Body, original: resp.Body}
	for i := len(encodings) - 1; i >= 0; i-- {
		for _, layer := range splitEncodings(encodings[i]) {
			if err := body.push(layer); err != nil {
				body.Close()
				return err
			}
		}
	}

	resp.Body = body
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

func splitEncodings(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for i := len(parts) - 1; i >= 0; i-- {
		out = append(out, strings.ToLower(strings.TrimSpace(parts[i])))
	}
	return out
}

func (b *decodingBody) push(encoding string) error {
	switch encoding {
	case "gzip", "x-gzip":
		zr := gzipReaderPool.Get().(*gzip.Reader)
		if err := zr.Reset(b.Reader); err != nil {
			gzipReaderPool.Put(zr)
			return fmt.Errorf("gzip initialization error: %w", err)
		}
		b.Reader = zr
		b.closers = append(b.closers, zr)
		b.release = append(b.release, func() {
			_ = zr.Reset(emptyReader)
			gzipReaderPool.Put(zr)
		})
	case "br":
		br := brotliReaderPool.Get().(*brotli.Reader)
		if err := br.Reset(b.Reader); err != nil {
			brotliReaderPool.Put(br)
			return fmt.Errorf("brotli initialization error: %w", err)
		}
		b.Reader = br
		b.release = append(b.release, func() {
			_ = br.Reset(emptyReader)
			brotliReaderPool.Put(br)
		})
	case "deflate":
		rc := openDeflate(b.Reader)
		b.Reader = rc
		b.closers = append(b.closers, rc)
	case "identity", "":
	default:
		return fmt.Errorf("unsupported Content-Encoding layer: %s", encoding)
	}
	return nil
}

// openDeflate reads zlib-wrapped deflate and falls back to raw deflate when
// the zlib header is missing.
func openDeflate(r io.Reader) io.ReadCloser {
	var head bytes.Buffer
	zr, err := zlib.NewReader(io.TeeReader(r, &head))
	if err == nil {
		return zr
	}
	return flate.NewReader(io.MultiReader(bytes.NewReader(head.Bytes()), r))
}
