// internal/classifier/persist_test.go
package classifier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	m := fitDefault(t).WithDigest("abc123")
	path := filepath.Join(t.TempDir(), "models", "ai_stub.bin")

	require.NoError(t, m.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, m.Options(), loaded.Options())
	assert.Equal(t, "abc123", loaded.Digest())
	assert.Equal(t, m.Summary(), loaded.Summary())

	queries := []string{
		"need this asap",
		"could you review the design",
		"closes #99",
		"unrelated words entirely",
		"",
	}
	for _, q := range queries {
		want, err := m.Predict(q)
		require.NoError(t, err)
		got, err := loaded.Predict(q)
		require.NoError(t, err)
		assert.Equal(t, want, got, "query %q", q)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	m := fitDefault(t)
	a, err := m.Encode()
	require.NoError(t, err)
	b, err := m.Encode()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLoadDetectsCorruption(t *testing.T) {
	m := fitDefault(t)
	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, m.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Load(path)
	assert.ErrorIs(t, err, ErrCorruptModel)

	_, err = Decode([]byte("short"))
	assert.ErrorIs(t, err, ErrCorruptModel)
}

func TestSaveUnfitted(t *testing.T) {
	err := (&Model{}).Save(filepath.Join(t.TempDir(), "m.bin"))
	assert.Error(t, err)
}
