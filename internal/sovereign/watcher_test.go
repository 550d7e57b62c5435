package sovereign

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherIngestsNewFile(t *testing.T) {
	store, _ := openTestStore(t)
	root := t.TempDir()

	w, err := NewWatcher(store, root, "watch-test")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	path := filepath.Join(root, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("# hi\n"), 0644))

	require.Eventually(t, func() bool {
		_, err := store.Get(context.Background(), "note.md")
		return err == nil
	}, 3*time.Second, 50*time.Millisecond)
}
