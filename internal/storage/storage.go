// Package storage reads audio and writes transcription outputs by URI.
// It defines the Storage interface (port) and implementations for local
// disk, S3 and plain HTTP(S) endpoints, plus a Router that picks one by
// URI scheme.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Static errors for storage operations.
var (
	// ErrUnsupportedScheme is returned when no backend handles a URI scheme.
	ErrUnsupportedScheme = errors.New("storage: unsupported URI scheme")
	// ErrNotFound is returned when the addressed object does not exist.
	ErrNotFound = errors.New("storage: object not found")
	// ErrInvalidURI is returned for URIs that cannot be parsed.
	ErrInvalidURI = errors.New("storage: invalid URI")
)

// Storage reads and writes whole objects addressed by URI.
type Storage interface {
	// Read returns the contents of the object at uri.
	Read(ctx context.Context, uri string) ([]byte, error)

	// Write stores data at uri, replacing any existing object.
	Write(ctx context.Context, uri string, data []byte) error
}

// Scheme returns the lower-cased scheme of uri, or "file" for bare paths.
func Scheme(uri string) string {
	i := strings.Index(uri, "://")
	if i <= 0 {
		return "file"
	}
	return strings.ToLower(uri[:i])
}

// Router dispatches Storage calls to a backend chosen by URI scheme.
type Router struct {
	mu       sync.RWMutex
	backends map[string]Storage
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{backends: make(map[string]Storage)}
}

// Handle registers s for the given schemes.
func (r *Router) Handle(s Storage, schemes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, scheme := range schemes {
		r.backends[strings.ToLower(scheme)] = s
	}
}

// Supports reports whether a backend is registered for scheme.
func (r *Router) Supports(scheme string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.backends[strings.ToLower(scheme)]
	return ok
}

// Read implements Storage.
func (r *Router) Read(ctx context.Context, uri string) ([]byte, error) {
	s, err := r.backend(uri)
	if err != nil {
		return nil, err
	}
	return s.Read(ctx, uri)
}

// Write implements Storage.
func (r *Router) Write(ctx context.Context, uri string, data []byte) error {
	s, err := r.backend(uri)
	if err != nil {
		return err
	}
	return s.Write(ctx, uri, data)
}

func (r *Router) backend(uri string) (Storage, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURI)
	}
	scheme := Scheme(uri)
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.backends[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	return s, nil
}

// Verify interface implementation at compile time.
var _ Storage = (*Router)(nil)
