package persist

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Codec names accepted by NewCompressed.
const (
	CodecNone = "none"
	CodecLZ4  = "lz4"
	CodecXZ   = "xz"
)

// Compressed values start with a three byte tag naming their codec, so a
// backend can hold values written with different settings. Uncompressed
// values that happen to start like a tag are escaped with tagRaw.
var (
	tagLZ4 = []byte("CZ4")
	tagXZ  = []byte("CZX")
	tagRaw = []byte("CZ0")
)

// Compressed compresses values on Save and decompresses them on Load.
type Compressed struct {
	B     Backend
	codec string
}

func NewCompressed(b Backend, codec string) (*Compressed, error) {
	switch codec {
	case CodecNone, CodecLZ4, CodecXZ:
	case "":
		codec = CodecNone
	default:
		return nil, fmt.Errorf("unknown compression %q", codec)
	}
	return &Compressed{B: b, codec: codec}, nil
}

func (c *Compressed) Save(ctx context.Context, key string, value []byte) error {
	enc, err := compress(c.codec, value)
	if err != nil {
		return fmt.Errorf("compress %s: %w", key, err)
	}
	return c.B.Save(ctx, key, enc)
}

func (c *Compressed) Load(ctx context.Context, key string) ([]byte, error) {
	raw, err := c.B.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	dec, err := decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", key, err)
	}
	return dec, nil
}

func (c *Compressed) Delete(ctx context.Context, key string) error {
	return c.B.Delete(ctx, key)
}

func compress(codec string, value []byte) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	switch codec {
	case CodecLZ4:
		buf.Write(tagLZ4)
		w = lz4.NewWriter(&buf)
	case CodecXZ:
		buf.Write(tagXZ)
		xw, err := xz.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		w = xw
	default:
		if bytes.HasPrefix(value, tagRaw[:2]) {
			return append(append([]byte(nil), tagRaw...), value...), nil
		}
		return value, nil
	}
	if _, err := w.Write(value); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decompress undoes compress. Values without a tag are returned as is.
func decompress(raw []byte) ([]byte, error) {
	var r io.Reader
	switch {
	case bytes.HasPrefix(raw, tagLZ4):
		r = lz4.NewReader(bytes.NewReader(raw[len(tagLZ4):]))
	case bytes.HasPrefix(raw, tagXZ):
		xr, err := xz.NewReader(bytes.NewReader(raw[len(tagXZ):]))
		if err != nil {
			return nil, err
		}
		r = xr
	case bytes.HasPrefix(raw, tagRaw):
		return raw[len(tagRaw):], nil
	default:
		return raw, nil
	}
	return io.ReadAll(r)
}
