// Package persist stores pipeline artifacts as opaque values under short
// slash-separated keys. Backends keep them in memory, in a host directory,
// in an S3 bucket or in a SQL table; wrappers add compression and
// per-session namespaces.
package persist

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrInvalidKey    = errors.New("invalid key")
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// validKey allows one or more path segments of letters, digits, '_' and '-'.
var validKey = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}(/[A-Za-z0-9_-]{1,64}){0,3}$`)

func checkKey(key string) error {
	if !validKey.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Backend is a key-value store for artifact blobs. Load returns an error
// wrapping ErrNotFound for absent keys; deleting an absent key is not an
// error.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Prefixed places every key of b under prefix, so several sessions can
// share one backend.
type Prefixed struct {
	B      Backend
	Prefix string
}

func (p Prefixed) key(k string) (string, error) {
	full := p.Prefix + "/" + k
	if err := checkKey(full); err != nil {
		return "", err
	}
	return full, nil
}

func (p Prefixed) Load(ctx context.Context, key string) ([]byte, error) {
	k, err := p.key(key)
	if err != nil {
		return nil, err
	}
	return p.B.Load(ctx, k)
}

func (p Prefixed) Save(ctx context.Context, key string, value []byte) error {
	k, err := p.key(key)
	if err != nil {
		return err
	}
	return p.B.Save(ctx, k, value)
}

func (p Prefixed) Delete(ctx context.Context, key string) error {
	k, err := p.key(key)
	if err != nil {
		return err
	}
	return p.B.Delete(ctx, k)
}
