package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngBytes: минимальный заголовок PNG и немного данных.
func pngBytes(size int) []byte {
	head := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}
	return append(head, bytes.Repeat([]byte{0x01}, size)...)
}

func TestEvidenceStorage_SaveAndDelete(t *testing.T) {
	root := t.TempDir()
	store, err := NewEvidenceStorage(root, 1)
	require.NoError(t, err)

	disputeID, uploaderID := uuid.New(), uuid.New()
	ref, size, err := store.Save(context.Background(), disputeID, uploaderID, bytes.NewReader(pngBytes(2048)))
	require.NoError(t, err)
	assert.Equal(t, int64(2048+16), size)
	assert.True(t, strings.HasPrefix(ref, RefPrefix+disputeID.String()+"/"))
	assert.True(t, strings.HasSuffix(ref, ".png"))

	path := filepath.Join(root, strings.TrimPrefix(ref, RefPrefix))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, pngBytes(2048), data)

	require.NoError(t, store.Delete(context.Background(), ref))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Повторное удаление не считается ошибкой.
	assert.NoError(t, store.Delete(context.Background(), ref))
}

func TestEvidenceStorage_Rejects(t *testing.T) {
	root := t.TempDir()
	store, err := NewEvidenceStorage(root, 1)
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = store.Save(ctx, uuid.New(), uuid.New(), bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, _, err = store.Save(ctx, uuid.New(), uuid.New(), strings.NewReader("просто текст, не картинка"))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, _, err = store.Save(ctx, uuid.New(), uuid.New(), bytes.NewReader(pngBytes(2<<20)))
	assert.ErrorIs(t, err, ErrTooLarge)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, _, err = store.Save(cancelled, uuid.New(), uuid.New(), bytes.NewReader(pngBytes(10)))
	assert.ErrorIs(t, err, context.Canceled)

	// Во временных файлах ничего не осталось.
	entries, err := filepath.Glob(filepath.Join(root, "*", "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEvidenceStorage_DeleteRejectsForeignRefs(t *testing.T) {
	store, err := NewEvidenceStorage(t.TempDir(), 1)
	require.NoError(t, err)

	for _, ref := range []string{
		"https://files.example/a.png",
		RefPrefix + "not-a-uuid/a.png",
		RefPrefix + uuid.NewString() + "/../../etc/passwd",
		RefPrefix + uuid.NewString() + "/",
	} {
		assert.ErrorIs(t, store.Delete(context.Background(), ref), ErrInvalidRef, ref)
	}
}
