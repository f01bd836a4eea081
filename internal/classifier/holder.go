// internal/classifier/holder.go
package classifier

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/user/shadowshift/internal/types"
)

// Holder publishes the current model to concurrent readers. Swaps replace
// the whole model; readers keep using whichever model they loaded.
type Holder struct {
	current  atomic.Pointer[Model]
	logger   *zap.Logger
	debounce time.Duration
}

// NewHolder returns an empty holder.
func NewHolder(logger *zap.Logger) *Holder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Holder{logger: logger, debounce: 200 * time.Millisecond}
}

// Get returns the current model, or nil when none is loaded.
func (h *Holder) Get() *Model {
	return h.current.Load()
}

// Set publishes m.
func (h *Holder) Set(m *Model) {
	h.current.Store(m)
}

// Ready reports whether a fitted model is loaded.
func (h *Holder) Ready() bool {
	return h.Get().Fitted()
}

// Predict uses the current model.
func (h *Holder) Predict(state string) (types.Prediction, error) {
	m := h.Get()
	if m == nil {
		return types.Prediction{}, types.ErrNotFitted
	}
	return m.Predict(state)
}

// PredictWithThreshold uses the current model.
func (h *Holder) PredictWithThreshold(state string, threshold float64) (types.Prediction, error) {
	m := h.Get()
	if m == nil {
		return types.Prediction{}, types.ErrNotFitted
	}
	return m.PredictWithThreshold(state, threshold)
}

// Reload loads path and publishes it. The current model is kept on error.
func (h *Holder) Reload(path string) error {
	m, err := Load(path)
	if err != nil {
		return err
	}
	h.Set(m)
	h.logger.Info("model loaded",
		zap.String("path", path),
		zap.Int("examples", len(m.labels)),
		zap.String("digest", m.digest))
	return nil
}

// Watch reloads the model whenever path is written or replaced, until ctx is
// done. The parent directory is watched so atomic renames are seen.
func (h *Holder) Watch(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve model path: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch model dir: %w", err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Create|fsnotify.Write) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(h.debounce)
			} else {
				timer.Reset(h.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := h.Reload(abs); err != nil {
				h.logger.Warn("model reload failed", zap.String("path", abs), zap.Error(err))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			h.logger.Warn("model watcher error", zap.Error(err))
		}
	}
}
