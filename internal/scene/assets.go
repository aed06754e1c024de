package scene

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"
)

// glbMagic starts every binary glTF file.
var glbMagic = []byte("glTF")

// ErrNotGLB is returned for template files without the binary glTF header.
var ErrNotGLB = errors.New("not a binary glTF file")

// Assets loads template models in the background and serves them to clients.
// It implements reconcile.Templates.
type Assets struct {
	mu     sync.RWMutex
	loaded map[string][]byte
	failed map[string]error
	logger *slog.Logger
}

// NewAssets creates an empty asset store.
func NewAssets(logger *slog.Logger) *Assets {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Assets{
		loaded: make(map[string][]byte),
		failed: make(map[string]error),
		logger: logger,
	}
}

// LoadAsync starts loading the model at path under id and returns
// immediately. done, if non-nil, is closed when loading finishes.
func (a *Assets) LoadAsync(ctx context.Context, id, path string) (done <-chan struct{}) {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		if err := a.Load(ctx, id, path); err != nil {
			a.logger.Error("failed to load template model", "template", id, "path", path, "error", err)
		}
	}()
	return ch
}

// Load reads and validates the model at path and registers it under id.
func (a *Assets) Load(ctx context.Context, id, path string) error {
	start := time.Now()
	a.logger.Info("loading template model", "template", id, "path", path)

	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		a.fail(id, err)
		return fmt.Errorf("read template: %w", err)
	}
	if err := a.Register(id, data); err != nil {
		a.fail(id, err)
		return err
	}

	a.logger.Info("template model loaded", "template", id, "bytes", len(data), "elapsed", time.Since(start))
	return nil
}

// Register stores an in-memory model under id.
func (a *Assets) Register(id string, data []byte) error {
	if !bytes.HasPrefix(data, glbMagic) {
		return fmt.Errorf("template %s: %w", id, ErrNotGLB)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loaded[id] = data
	delete(a.failed, id)
	return nil
}

// Ready implements reconcile.Templates.
func (a *Assets) Ready(id string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.loaded[id]
	return ok
}

// Err returns the last load error for id, if any.
func (a *Assets) Err(id string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.failed[id]
}

func (a *Assets) fail(id string, err error) {
	a.mu.Lock()
	a.failed[id] = err
	a.mu.Unlock()
}

// Handler serves loaded models at <prefix>/<id>.
func (a *Assets) Handler(prefix string) http.Handler {
	return http.StripPrefix(prefix, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path
		if len(id) > 0 && id[0] == '/' {
			id = id[1:]
		}

		a.mu.RLock()
		data, ok := a.loaded[id]
		a.mu.RUnlock()
		if !ok {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "model/gltf-binary")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Write(data)
	}))
}
