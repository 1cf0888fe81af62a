package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Write persists one epoch's consolidated optimizer state as a
// zstd-compressed little-endian float64 stream and returns the file
// path. The leader rank calls it after each consolidation when
// snapshotting is enabled.
func Write(dir, runID string, epoch int, state []float64) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-epoch%03d.f64.zst", runID, epoch))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot %s: %w", path, err)
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return "", fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if err := binary.Write(enc, binary.LittleEndian, state); err != nil {
		_ = enc.Close()
		return "", fmt.Errorf("failed to write snapshot %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to finish snapshot %s: %w", path, err)
	}
	return path, nil
}

// Read loads a snapshot file back into a float64 vector
func Read(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot %s: %w", path, err)
	}
	defer f.Close()

	d, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer d.Close()

	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("snapshot %s is truncated: %d bytes", path, len(raw))
	}
	state := make([]float64, len(raw)/8)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &state); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", path, err)
	}
	return state, nil
}
