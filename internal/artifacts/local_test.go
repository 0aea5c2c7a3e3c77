package artifacts

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocalStore(t *testing.T) {
	t.Run("CreateWithPath", func(t *testing.T) {
		tempDir := t.TempDir()
		path := filepath.Join(tempDir, "artifacts")

		store, err := NewLocalStore(path)
		require.NoError(t, err)
		require.NotNil(t, store)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("CreateWithEmptyPath", func(t *testing.T) {
		origDir, err := os.Getwd()
		require.NoError(t, err)
		defer os.Chdir(origDir)

		tempDir := t.TempDir()
		os.Chdir(tempDir)

		store, err := NewLocalStore("")
		require.NoError(t, err)
		assert.Equal(t, "./artifacts", store.GetBasePath())
	})
}

func TestLocalStore_UploadDownload(t *testing.T) {
	tempDir := t.TempDir()
	store, err := NewLocalStore(tempDir)
	require.NoError(t, err)

	content := []byte("completion report bytes")
	require.NoError(t, store.Upload(context.Background(), "handle/1.json", bytes.NewReader(content)))

	rc, err := store.Download(context.Background(), "handle/1.json")
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestLocalStore_UploadCanceledContext(t *testing.T) {
	tempDir := t.TempDir()
	store, err := NewLocalStore(tempDir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = store.Upload(ctx, "canceled.json", bytes.NewReader([]byte("x")))
	assert.Error(t, err)
}

func TestLocalStore_ExistsAndDelete(t *testing.T) {
	tempDir := t.TempDir()
	store, err := NewLocalStore(tempDir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Upload(ctx, "a.json", bytes.NewReader([]byte("{}"))))

	exists, err := store.Exists(ctx, "a.json")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete(ctx, "a.json"))

	exists, err = store.Exists(ctx, "a.json")
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting an already-absent key is not an error.
	require.NoError(t, store.Delete(ctx, "a.json"))
}

func TestLocalStore_DownloadNotFound(t *testing.T) {
	tempDir := t.TempDir()
	store, err := NewLocalStore(tempDir)
	require.NoError(t, err)

	_, err = store.Download(context.Background(), "missing.json")
	assert.Error(t, err)
}

func TestLocalStore_GetURL(t *testing.T) {
	tempDir := t.TempDir()
	store, err := NewLocalStore(tempDir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(tempDir, "handle/1.json"), store.GetURL("handle/1.json"))
}

func TestNewStore_Local(t *testing.T) {
	tempDir := t.TempDir()
	store, err := NewStore(&Config{Type: "local", LocalPath: tempDir})
	require.NoError(t, err)
	_, ok := store.(*LocalStore)
	assert.True(t, ok)
}

func TestPutAndGetReport(t *testing.T) {
	tempDir := t.TempDir()
	store, err := NewLocalStore(tempDir)
	require.NoError(t, err)

	ctx := context.Background()
	report := CompletionReport{
		HandleID:   7,
		TotalTasks: 42,
		WallTimeMS: 1500,
		VPUtilization: []VPUtilization{
			{VPID: 0, TasksRun: 30},
			{VPID: 1, TasksRun: 12},
		},
	}
	require.NoError(t, PutReport(ctx, store, "handle-7.json", report))

	got, err := GetReport(ctx, store, "handle-7.json")
	require.NoError(t, err)
	assert.Equal(t, report, *got)
}
