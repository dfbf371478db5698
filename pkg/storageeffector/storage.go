// Package storageeffector materializes Disk intent on the local host:
// backing qcow2 files created and removed inside a Pool's directory via
// the qemu-img toolchain. The catalog is never touched here; callers
// commit a record only after the effector reports success.
package storageeffector

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/cuemby/virtus/pkg/types"
	"github.com/cuemby/virtus/pkg/verr"
	"github.com/cuemby/virtus/pkg/vlog"
	"github.com/rs/zerolog"
)

// Runner executes an external command and returns its stdout and stderr.
// The production runner shells out; tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), err
}

// Effector creates and destroys disk backing files on this host.
type Effector struct {
	runner Runner
	logger zerolog.Logger
}

// New returns an Effector that shells out to qemu-img.
func New() *Effector {
	return NewWithRunner(execRunner{})
}

// NewWithRunner returns an Effector using the given command runner.
func NewWithRunner(r Runner) *Effector {
	return &Effector{
		runner: r,
		logger: vlog.WithComponent("storage-effector"),
	}
}

// EnsurePool creates the pool directory if absent. Idempotent.
func (e *Effector) EnsurePool(ctx context.Context, path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return verr.Externalf(err, "create pool directory %s", path)
	}
	e.logger.Debug().Str("op", "ensure_pool").Str("path", path).Msg("pool directory ready")
	return nil
}

// DiskPath returns the backing file path for a disk inside a pool.
func DiskPath(poolPath string, diskID types.ID) string {
	return filepath.Join(poolPath, diskID.String()+".qcow2")
}

// CreateDisk invokes qemu-img to create the backing file for diskID inside
// poolPath. A pre-existing file fails cleanly rather than being clobbered;
// a failed creation leaves no partial file behind.
func (e *Effector) CreateDisk(ctx context.Context, poolPath string, diskID types.ID, sizeBytes uint64) (string, error) {
	path := DiskPath(poolPath, diskID)

	if _, err := os.Stat(path); err == nil {
		return "", verr.Preconditionf("disk file %s already exists", path)
	} else if !os.IsNotExist(err) {
		return "", verr.Externalf(err, "stat %s", path)
	}

	_, stderr, err := e.runner.Run(ctx, "qemu-img", "create", "-f", "qcow2", path, fmt.Sprintf("%d", sizeBytes))
	if err != nil {
		os.Remove(path)
		e.logger.Warn().Str("op", "create_disk").Str("path", path).Err(err).
			Str("stderr", string(stderr)).Msg("qemu-img failed")
		return "", verr.Externalf(err, "qemu-img create %s: %s", path, stderr)
	}

	e.logger.Debug().Str("op", "create_disk").Str("path", path).
		Uint64("size_bytes", sizeBytes).Msg("disk file created")
	return path, nil
}

// DeleteDisk removes the backing file. A missing file is not an error.
func (e *Effector) DeleteDisk(ctx context.Context, poolPath string, diskID types.ID) error {
	path := DiskPath(poolPath, diskID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return verr.Externalf(err, "remove disk file %s", path)
	}
	e.logger.Debug().Str("op", "delete_disk").Str("path", path).Msg("disk file removed")
	return nil
}
