// Package snapshot captures the protected ruleset before a risky change.
//
// A snapshot is the backend's full serialization written to a private file
// (directory 0700, file 0600). It is identified by its path and a BLAKE3
// digest so a restorer in another process can refuse a truncated or
// replaced file.
package snapshot

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"

	"grimm.is/tether/internal/clock"
	"grimm.is/tether/internal/firewall"
	"grimm.is/tether/internal/logging"
)

var (
	// ErrBackendUnavailable means the backend feature is absent from the
	// running kernel. Capture never succeeds on this host.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrCapture is an unexplained failure of the save primitive.
	ErrCapture = errors.New("snapshot capture failed")
	// ErrDigestMismatch means the snapshot file no longer matches the digest
	// recorded at capture time.
	ErrDigestMismatch = errors.New("snapshot digest mismatch")
)

// Handle references a captured snapshot.
type Handle struct {
	Path       string    `json:"path"`
	Digest     string    `json:"digest"`
	Size       int       `json:"size"`
	Target     string    `json:"target"`
	CapturedAt time.Time `json:"captured_at"`
}

// Capturer stores snapshots under one private directory.
type Capturer struct {
	dir    string
	clock  clock.Clock
	logger *logging.Logger
}

// NewCapturer returns a Capturer writing into dir.
func NewCapturer(dir string, clk clock.Clock, logger *logging.Logger) *Capturer {
	return &Capturer{
		dir:    dir,
		clock:  clock.Or(clk),
		logger: logging.Or(logger).WithComponent("snapshot"),
	}
}

// Dir returns the snapshot directory.
func (c *Capturer) Dir() string {
	return c.dir
}

// Capture saves the current state of b. On failure nothing is left on disk
// and the error wraps ErrBackendUnavailable or ErrCapture.
func (c *Capturer) Capture(ctx context.Context, b firewall.Backend, txID string) (*Handle, error) {
	data, err := b.Save(ctx)
	if err != nil {
		if perr := b.Probe(ctx); errors.Is(perr, firewall.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, b.Target(), err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrCapture, b.Target(), err)
	}

	h, err := c.store(b.Target(), txID, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCapture, err)
	}
	c.logger.Info("snapshot captured", "target", h.Target, "path", h.Path, "bytes", h.Size)
	return h, nil
}

func (c *Capturer) store(target, txID string, data []byte) (*Handle, error) {
	if err := os.MkdirAll(c.dir, 0700); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	// MkdirAll leaves an existing directory alone.
	if err := os.Chmod(c.dir, 0700); err != nil {
		return nil, fmt.Errorf("secure snapshot directory: %w", err)
	}

	f, err := os.CreateTemp(c.dir, fmt.Sprintf("%s-%s-*.snap", target, txID))
	if err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}
	path := f.Name()

	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write snapshot %s: %w", path, err)
	}

	return &Handle{
		Path:       path,
		Digest:     Digest(data),
		Size:       len(data),
		Target:     target,
		CapturedAt: c.clock.Now(),
	}, nil
}

// Digest returns the hex BLAKE3 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Load reads the snapshot and checks it against the recorded digest.
func Load(h Handle) ([]byte, error) {
	data, err := os.ReadFile(h.Path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if h.Digest != "" && Digest(data) != h.Digest {
		return nil, fmt.Errorf("%s: %w", h.Path, ErrDigestMismatch)
	}
	return data, nil
}

// Discard deletes the snapshot. A missing file is not an error; the
// snapshot is deleted once by whichever actor resolves the transaction and
// the others see it gone.
func Discard(h Handle) error {
	if h.Path == "" {
		return nil
	}
	if err := os.Remove(h.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	return nil
}

// Exists reports whether the snapshot file is still present.
func Exists(h Handle) bool {
	_, err := os.Stat(h.Path)
	return err == nil
}

// WriteFileAtomic writes data to path via a temporary file in the same
// directory and a rename, with mode 0600.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
