package contentstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir, logger.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	key := KeyFor("abc123", "Notes.MD")
	assert.Equal(t, "documents/abc123.md", key)

	require.NoError(t, s.Put(ctx, key, []byte("hello"), "text/markdown"))
	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreKeysStayUnderRoot(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir, logger.Nop())
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), "../../escape.txt", []byte("x"), ""))
	_, err = os.Stat(filepath.Join(dir, "escape.txt"))
	assert.NoError(t, err)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{Mode: ModeLocal, Dir: "/tmp/x"}.Validate())
	assert.Error(t, Config{Mode: ModeLocal}.Validate())
	assert.Error(t, Config{Mode: ModeGCS}.Validate())
	assert.NoError(t, Config{Mode: ModeGCS, Bucket: "b"}.Validate())
	assert.Error(t, Config{Mode: ModeGCSEmulator, Bucket: "b"}.Validate())
	assert.Error(t, Config{Mode: "s3"}.Validate())
}
