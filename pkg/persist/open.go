package persist

import (
	"context"
	"fmt"
)

// Config selects and configures a backend.
type Config struct {
	Backend     string    `json:"backend"` // memory, files, s3 or sql
	Dir         string    `json:"dir"`     // files backend
	Quota       int       `json:"-"`       // memory and files backends, in bytes
	Compression string    `json:"compression"`
	S3          S3Config  `json:"s3"`
	SQL         SQLConfig `json:"sql"`
}

// Open builds the backend cfg names, wrapped for compression. The returned
// close function releases connections and is never nil.
func Open(ctx context.Context, cfg Config) (Backend, func() error, error) {
	noop := func() error { return nil }
	var b Backend
	closer := noop

	switch cfg.Backend {
	case "", "memory":
		b = NewDisk("", cfg.Quota)
	case "files":
		if cfg.Dir == "" {
			return nil, noop, fmt.Errorf("files backend needs a directory")
		}
		d, err := OpenDisk(cfg.Dir, cfg.Quota)
		if err != nil {
			return nil, noop, err
		}
		b = d
	case "s3":
		if cfg.S3.Bucket == "" {
			return nil, noop, fmt.Errorf("s3 backend needs a bucket")
		}
		b = NewS3Backend(cfg.S3)
	case "sql":
		s, err := OpenSQL(ctx, cfg.SQL)
		if err != nil {
			return nil, noop, err
		}
		b, closer = s, s.Close
	default:
		return nil, noop, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	if cfg.Compression == "" || cfg.Compression == CodecNone {
		return b, closer, nil
	}
	c, err := NewCompressed(b, cfg.Compression)
	if err != nil {
		_ = closer()
		return nil, noop, err
	}
	return c, closer, nil
}
