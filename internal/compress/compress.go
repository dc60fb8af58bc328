// Package compress encodes response bodies and negotiates an encoding from
// a client's Accept-Encoding header.
package compress

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// Encoding identifies a content-encoding the Compressor can produce.
type Encoding string

const (
	Identity Encoding = "identity"
	Gzip     Encoding = "gzip"
	Deflate  Encoding = "deflate"
	Brotli   Encoding = "br"
)

// ChooseEncoding picks the preferred encoding present in an Accept-Encoding
// header value, by simple substring match: br, then gzip, then deflate,
// else identity. Quality factors are ignored.
func ChooseEncoding(acceptEncoding string) Encoding {
	lower := strings.ToLower(acceptEncoding)
	switch {
	case strings.Contains(lower, "br"):
		return Brotli
	case strings.Contains(lower, "gzip"):
		return Gzip
	case strings.Contains(lower, "deflate"):
		return Deflate
	default:
		return Identity
	}
}

// Compress encodes data under the given encoding at default compression
// level. Identity returns data unchanged.
func Compress(data []byte, encoding Encoding) ([]byte, error) {
	switch encoding {
	case Identity, "":
		return data, nil
	case Gzip:
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("compress: gzip writer: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("compress: gzip write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("compress: gzip close: %w", err)
		}
		return buf.Bytes(), nil
	case Deflate:
		var buf bytes.Buffer
		w, err := zlib.NewWriterLevel(&buf, zlib.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("compress: deflate writer: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("compress: deflate write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("compress: deflate close: %w", err)
		}
		return buf.Bytes(), nil
	case Brotli:
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("compress: brotli write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("compress: brotli close: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("compress: unsupported encoding %q", encoding)
	}
}
