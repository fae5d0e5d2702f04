package repo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"weft/internal/buffer"
	"weft/internal/config"
	"weft/internal/epoch"
	"weft/internal/worktree"
)

func treePaths(wt *worktree.WorkTree) []string {
	var paths []string
	for _, entry := range wt.Entries(worktree.EntriesOptions{}) {
		paths = append(paths, entry.Path)
	}
	return paths
}

func TestInitLayout(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	require.NoError(t, Init(root))

	for _, dir := range []string{"journal", "snapshots", "config", "keys"} {
		info, err := os.Stat(filepath.Join(root, WeftDir, dir))
		require.NoError(t, err, dir)
		require.True(t, info.IsDir(), dir)
	}
	head, err := os.ReadFile(filepath.Join(root, WeftDir, "HEAD"))
	require.NoError(t, err)
	require.Empty(t, head)

	raw, err := config.Get(root, config.KeyReplicaId)
	require.NoError(t, err)
	_, err = uuid.Parse(raw)
	require.NoError(t, err)

	require.ErrorIs(t, Init(root), ErrExists)
}

func TestInitKeepsExistingFiles(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "kept.txt"), []byte("kept"), 0644))

	require.NoError(t, Init(root))

	content, err := os.ReadFile(filepath.Join(root, "kept.txt"))
	require.NoError(t, err)
	require.Equal(t, "kept", string(content))
}

func TestFind(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	require.NoError(t, Init(root))
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0755))

	found, err := Find(nested)
	require.NoError(t, err)
	require.Equal(t, root, found)

	found, err = Find(root)
	require.NoError(t, err)
	require.Equal(t, root, found)

	_, err = Find(t.TempDir())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOpenLifecycle(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	require.NoError(t, Init(root))

	r, err := Open(root)
	require.NoError(t, err)
	require.Equal(t, root, r.Root())

	raw, err := config.Get(root, config.KeyReplicaId)
	require.NoError(t, err)
	require.Equal(t, raw, r.Replica().String())

	envelope, err := r.Tree().CreateFile("notes.txt", epoch.FileTypeText)
	require.NoError(t, err)
	require.NoError(t, r.Record(envelope))
	buf, err := r.Tree().OpenTextFile("notes.txt")
	require.NoError(t, err)
	envelope, err = buf.Edit([]buffer.OffsetRange{{Start: 0, End: 0}}, "remember the milk")
	require.NoError(t, err)
	require.NoError(t, r.Record(envelope))
	require.NoError(t, r.Close())

	r, err = Open(root)
	require.NoError(t, err)
	require.Zero(t, r.Tree().DeferredOperationCount())
	require.Equal(t, []string{"notes.txt"}, treePaths(r.Tree()))
	buf, err = r.Tree().OpenTextFile("notes.txt")
	require.NoError(t, err)
	require.Equal(t, "remember the milk", buf.Text())
	require.NoError(t, r.Close())
}

func TestSnapshotResetRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	require.NoError(t, Init(root))
	require.NoError(t, config.SetRepo(root, config.KeySnapshotSign, "true"))

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "README.md"), []byte("hello"), 0644))

	r, err := Open(root)
	require.NoError(t, err)
	oid, err := r.ImportSnapshot(src, "first import")
	require.NoError(t, err)

	manifest, err := r.Store().Manifest(oid)
	require.NoError(t, err)
	require.Equal(t, "first import", manifest.Message)
	require.NotEmpty(t, manifest.Signature)

	require.NoError(t, r.Reset(&oid))
	head, err := os.ReadFile(filepath.Join(root, WeftDir, "HEAD"))
	require.NoError(t, err)
	require.Equal(t, oid.String(), string(head))
	require.NoError(t, r.Close())

	r, err = Open(root)
	require.NoError(t, err)
	require.Equal(t, []string{"README.md"}, treePaths(r.Tree()))
	buf, err := r.Tree().OpenTextFile("README.md")
	require.NoError(t, err)
	require.Equal(t, "hello", buf.Text())
	require.NoError(t, r.Close())
}

func TestSync(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	aDir := t.TempDir()
	bDir := t.TempDir()
	require.NoError(t, Init(aDir))
	require.NoError(t, Init(bDir))

	a, err := Open(aDir)
	require.NoError(t, err)
	envelope, err := a.Tree().CreateFile("shared.txt", epoch.FileTypeText)
	require.NoError(t, err)
	require.NoError(t, a.Record(envelope))
	buf, err := a.Tree().OpenTextFile("shared.txt")
	require.NoError(t, err)
	envelope, err = buf.Edit([]buffer.OffsetRange{{Start: 0, End: 0}}, "ping")
	require.NoError(t, err)
	require.NoError(t, a.Record(envelope))

	pulled, pushed, err := a.Sync(bDir)
	require.NoError(t, err)
	require.Zero(t, pulled)
	require.NotZero(t, pushed)
	require.NoError(t, a.Close())

	b, err := Open(bDir)
	require.NoError(t, err)
	require.Equal(t, []string{"shared.txt"}, treePaths(b.Tree()))
	bBuf, err := b.Tree().OpenTextFile("shared.txt")
	require.NoError(t, err)
	require.Equal(t, "ping", bBuf.Text())

	envelope, err = bBuf.Edit([]buffer.OffsetRange{{Start: 4, End: 4}}, " pong")
	require.NoError(t, err)
	require.NoError(t, b.Record(envelope))
	require.NoError(t, b.Close())

	a, err = Open(aDir)
	require.NoError(t, err)
	pulled, _, err = a.Sync(bDir)
	require.NoError(t, err)
	require.NotZero(t, pulled)
	aBuf, err := a.Tree().OpenTextFile("shared.txt")
	require.NoError(t, err)
	require.Equal(t, "ping pong", aBuf.Text())
	require.NoError(t, a.Close())
}

func TestSyncReplicatesSnapshots(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	aDir := t.TempDir()
	bDir := t.TempDir()
	require.NoError(t, Init(aDir))
	require.NoError(t, Init(bDir))

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "docs"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "docs", "guide.md"), []byte("guide"), 0644))

	a, err := Open(aDir)
	require.NoError(t, err)
	oid, err := a.ImportSnapshot(src, "import docs")
	require.NoError(t, err)
	require.NoError(t, a.Reset(&oid))
	_, _, err = a.Sync(bDir)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := Open(bDir)
	require.NoError(t, err)
	require.Equal(t, []string{"docs", "docs/guide.md"}, treePaths(b.Tree()))
	buf, err := b.Tree().OpenTextFile("docs/guide.md")
	require.NoError(t, err)
	require.Equal(t, "guide", buf.Text())
	head := b.Tree().Head()
	require.NotNil(t, head)
	require.Equal(t, oid, *head)
	require.NoError(t, b.Close())
}

func TestSyncSelf(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	require.NoError(t, Init(root))
	r, err := Open(root)
	require.NoError(t, err)
	defer r.Close()

	sub := filepath.Join(root, "sub")
	require.NoError(t, os.MkdirAll(sub, 0755))
	_, _, err = r.Sync(sub)
	require.ErrorContains(t, err, "itself")
}

func TestOpenSigningRequiresKey(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	require.NoError(t, Init(root))
	require.NoError(t, os.RemoveAll(filepath.Join(root, WeftDir, "keys")))
	require.NoError(t, config.SetRepo(root, config.KeySnapshotSign, "true"))

	_, err := Open(root)
	require.ErrorContains(t, err, "no private key")
}

func TestOpenRejectsBadCompactInterval(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	require.NoError(t, Init(root))
	require.NoError(t, config.SetRepo(root, config.KeyCompactInterval, "whenever"))

	_, err := Open(root)
	require.ErrorContains(t, err, "journal.compact-interval")
}
