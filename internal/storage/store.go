package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound indicates no object exists under the requested key.
var ErrNotFound = errors.New("object not found")

// ErrInvalidKey indicates a key that is empty or escapes its namespace.
var ErrInvalidKey = errors.New("invalid object key")

// ArchiveStore persists opaque archive blobs by key.
type ArchiveStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// Buckets used by the grading service.
const (
	BucketModelSolutions = "model_solutions"
	BucketSubmissions    = "submissions"
)

// CleanKey validates a slash separated key.
func CleanKey(key string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(key), "/")
	if trimmed == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(trimmed)
	if cleaned != trimmed || cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.Contains(cleaned, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

// JoinKey joins key segments after validating each one.
func JoinKey(parts ...string) (string, error) {
	for _, part := range parts {
		if strings.Contains(part, "/") {
			return "", fmt.Errorf("%w: segment %q contains a separator", ErrInvalidKey, part)
		}
	}
	return CleanKey(strings.Join(parts, "/"))
}

// Namespaced prefixes every key of an underlying store.
type Namespaced struct {
	store  ArchiveStore
	prefix string
}

// NewNamespaced wraps store so that keys live under prefix.
func NewNamespaced(store ArchiveStore, prefix string) *Namespaced {
	return &Namespaced{store: store, prefix: strings.Trim(prefix, "/")}
}

func (n *Namespaced) key(key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return n.prefix + "/" + cleaned, nil
}

func (n *Namespaced) Get(ctx context.Context, key string) ([]byte, error) {
	full, err := n.key(key)
	if err != nil {
		return nil, err
	}
	return n.store.Get(ctx, full)
}

func (n *Namespaced) Put(ctx context.Context, key string, data []byte) error {
	full, err := n.key(key)
	if err != nil {
		return err
	}
	return n.store.Put(ctx, full, data)
}

func (n *Namespaced) Delete(ctx context.Context, key string) error {
	full, err := n.key(key)
	if err != nil {
		return err
	}
	return n.store.Delete(ctx, full)
}

func (n *Namespaced) List(ctx context.Context, prefix string) ([]string, error) {
	full := n.prefix + "/"
	if trimmed := strings.Trim(prefix, "/"); trimmed != "" {
		full += trimmed
	}
	keys, err := n.store.List(ctx, full)
	if err != nil {
		return nil, err
	}
	for i, key := range keys {
		keys[i] = strings.TrimPrefix(key, n.prefix+"/")
	}
	return keys, nil
}
