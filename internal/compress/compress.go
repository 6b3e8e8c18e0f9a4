package compress

import (
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

const (
	TypeNone = "none"
	TypeGzip = "gzip"
	TypeZstd = "zstd"
)

// Kinds lists the supported compression kinds.
func Kinds() []string { return []string{TypeNone, TypeGzip, TypeZstd} }

// Code maps a kind to its one-byte wire identifier in the archive header.
func Code(kind string) (byte, error) {
	switch kind {
	case "", TypeNone:
		return 0, nil
	case TypeGzip:
		return 1, nil
	case TypeZstd:
		return 2, nil
	default:
		return 0, fmt.Errorf("unsupported compression: %s", kind)
	}
}

// KindFromCode is the inverse of Code.
func KindFromCode(code byte) (string, error) {
	switch code {
	case 0:
		return TypeNone, nil
	case 1:
		return TypeGzip, nil
	case 2:
		return TypeZstd, nil
	default:
		return "", fmt.Errorf("unknown compression code: %d", code)
	}
}

func WrapWriter(kind string, w io.Writer) (io.WriteCloser, error) {
	switch kind {
	case "", TypeNone:
		return nopWriteCloser{w}, nil
	case TypeGzip:
		return gzip.NewWriter(w), nil
	case TypeZstd:
		return zstd.NewWriter(w)
	default:
		return nil, fmt.Errorf("unsupported compression: %s", kind)
	}
}

func WrapReader(kind string, r io.Reader) (io.ReadCloser, error) {
	switch kind {
	case "", TypeNone:
		return io.NopCloser(r), nil
	case TypeGzip:
		return gzip.NewReader(r)
	case TypeZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zstdReadCloser{Decoder: dec}, nil
	default:
		return nil, fmt.Errorf("unsupported compression: %s", kind)
	}
}

type nopWriteCloser struct{ io.Writer }

func (n nopWriteCloser) Close() error { return nil }

type zstdReadCloser struct{ *zstd.Decoder }

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}
