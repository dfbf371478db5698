package storageeffector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/virtus/pkg/types"
	"github.com/cuemby/virtus/pkg/verr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner records invocations and optionally creates the target file the
// way a successful qemu-img run would.
type fakeRunner struct {
	calls  [][]string
	fail   bool
	stderr string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.fail {
		return nil, []byte(f.stderr), errors.New("exit status 1")
	}
	// qemu-img create leaves the file behind; args[3] is the path.
	if name == "qemu-img" && len(args) >= 4 {
		os.WriteFile(args[3], []byte{}, 0644)
	}
	return []byte("Formatting ..."), nil, nil
}

func TestEnsurePoolIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "p1")
	e := NewWithRunner(&fakeRunner{})

	require.NoError(t, e.EnsurePool(context.Background(), dir))
	require.NoError(t, e.EnsurePool(context.Background(), dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCreateDisk(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{}
	e := NewWithRunner(r)
	id := types.NewID()

	path, err := e.CreateDisk(context.Background(), dir, id, 1<<30)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, id.String()+".qcow2"), path)

	require.Len(t, r.calls, 1)
	assert.Equal(t, []string{"qemu-img", "create", "-f", "qcow2", path, "1073741824"}, r.calls[0])
}

func TestCreateDiskExistingFileFailsCleanly(t *testing.T) {
	dir := t.TempDir()
	e := NewWithRunner(&fakeRunner{})
	id := types.NewID()

	require.NoError(t, os.WriteFile(DiskPath(dir, id), []byte("x"), 0644))

	_, err := e.CreateDisk(context.Background(), dir, id, 1<<20)
	require.Error(t, err)
	assert.Equal(t, verr.KindPrecondition, verr.KindOf(err))
}

func TestCreateDiskFailureLeavesNoPartialFile(t *testing.T) {
	dir := t.TempDir()
	e := NewWithRunner(&fakeRunner{fail: true, stderr: "qemu-img: disk full"})
	id := types.NewID()

	_, err := e.CreateDisk(context.Background(), dir, id, 1<<20)
	require.Error(t, err)
	assert.Equal(t, verr.KindExternal, verr.KindOf(err))
	assert.Contains(t, err.Error(), "disk full")

	_, statErr := os.Stat(DiskPath(dir, id))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDeleteDiskIdempotent(t *testing.T) {
	dir := t.TempDir()
	e := NewWithRunner(&fakeRunner{})
	id := types.NewID()

	_, err := e.CreateDisk(context.Background(), dir, id, 1<<20)
	require.NoError(t, err)

	require.NoError(t, e.DeleteDisk(context.Background(), dir, id))
	// Absent file is not an error.
	require.NoError(t, e.DeleteDisk(context.Background(), dir, id))
}
