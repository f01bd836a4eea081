// internal/classifier/holder_test.go
package classifier

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/shadowshift/internal/types"
)

func TestHolderEmpty(t *testing.T) {
	h := NewHolder(nil)
	assert.False(t, h.Ready())
	_, err := h.Predict("x")
	assert.ErrorIs(t, err, types.ErrNotFitted)
}

func TestHolderWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.bin")

	first := fitDefault(t).WithDigest("first")
	require.NoError(t, first.Save(path))

	h := NewHolder(nil)
	h.debounce = 10 * time.Millisecond
	require.NoError(t, h.Reload(path))
	assert.Equal(t, "first", h.Get().Digest())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Watch(ctx, path) }()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)

	second := fitDefault(t).WithDigest("second")
	require.NoError(t, second.Save(path))

	require.Eventually(t, func() bool {
		return h.Get().Digest() == "second"
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
