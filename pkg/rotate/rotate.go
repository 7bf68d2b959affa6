package rotate

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/jdugan/esdb/pkg/sample"
	"github.com/jdugan/esdb/pkg/storage"
)

// Rotator moves closed chunks from the fast tier (badger) to the slow tier:
// one zstd-compressed archive file per (stream, chunk) under the archive dir.
// A chunk is only dropped from the fast tier after its archive file has been
// fully written and renamed into place, so a crash mid-rotation loses nothing.
type Rotator struct {
	arch      storage.Archiver
	dir       string
	retention int64 // seconds a chunk stays on the fast tier
}

// Config holds rotation settings.
type Config struct {
	// Dir is the slow-tier directory for archive files.
	Dir string

	// Retention is how long samples stay on the fast tier, in seconds.
	// Chunks whose whole span is older than now-Retention get rotated.
	Retention int64
}

// New creates a rotator. The archive dir is created if missing.
func New(arch storage.Archiver, cfg Config) (*Rotator, error) {
	if cfg.Dir == "" {
		return nil, errors.New("rotate: archive dir is required")
	}
	if cfg.Retention <= 0 {
		return nil, errors.New("rotate: retention must be positive")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive dir: %w", err)
	}
	return &Rotator{arch: arch, dir: cfg.Dir, retention: cfg.Retention}, nil
}

// RotateOnce archives and drops every chunk that is cold as of now. It returns
// the number of chunks moved. A failure on one chunk aborts the pass; chunks
// already moved stay moved, the rest are picked up next time.
func (r *Rotator) RotateOnce(ctx context.Context, now int64) (int, error) {
	refs, err := r.arch.ColdChunks(ctx, now-r.retention)
	if err != nil {
		return 0, fmt.Errorf("failed to list cold chunks: %w", err)
	}

	var moved int
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		if err := r.rotateChunk(ctx, ref); err != nil {
			return moved, fmt.Errorf("rotate chunk %s@%d: %w", ref.Key, ref.Start, err)
		}
		moved++
	}
	return moved, nil
}

func (r *Rotator) rotateChunk(ctx context.Context, ref storage.ChunkRef) error {
	samples, err := r.arch.ChunkSamples(ctx, ref)
	if err != nil {
		return err
	}
	if len(samples) > 0 {
		if err := r.writeArchive(ref, samples); err != nil {
			return err
		}
	}
	return r.arch.DropChunk(ctx, ref)
}

// writeArchive writes the chunk to a temp file and renames it into place.
// An archive that already exists is left alone; files here are written once.
func (r *Rotator) writeArchive(ref storage.ChunkRef, samples []sample.Sample) error {
	path := r.ArchivePath(ref)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".rotate-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := writeRecords(tmp, samples); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeRecords(w io.Writer, samples []sample.Sample) error {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	// each record is a 2-byte big-endian length followed by the encoded sample
	var lenbuf [2]byte
	for _, smp := range samples {
		rec, err := sample.Encode(smp)
		if err != nil {
			zw.Close()
			return err
		}
		binary.BigEndian.PutUint16(lenbuf[:], uint16(len(rec)))
		if _, err := zw.Write(lenbuf[:]); err != nil {
			zw.Close()
			return err
		}
		if _, err := zw.Write(rec); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

// ArchivePath returns the slow-tier file for a chunk:
// <dir>/<device>/<oidset>/<oid>/<start>.zst with path-hostile identifier
// characters escaped.
func (r *Rotator) ArchivePath(ref storage.ChunkRef) string {
	return filepath.Join(r.dir,
		url.PathEscape(ref.Key.Device),
		url.PathEscape(ref.Key.OIDSet),
		url.PathEscape(ref.Key.OID),
		fmt.Sprintf("%d.zst", ref.Start))
}

// ReadArchive reads every sample back out of an archive file, in the order
// they were written.
func ReadArchive(path string) ([]sample.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var samples []sample.Sample
	var lenbuf [2]byte
	for {
		if _, err := io.ReadFull(zr, lenbuf[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return samples, nil
			}
			return nil, fmt.Errorf("corrupt archive %s: %w", path, err)
		}
		rec := make([]byte, binary.BigEndian.Uint16(lenbuf[:]))
		if _, err := io.ReadFull(zr, rec); err != nil {
			return nil, fmt.Errorf("corrupt archive %s: %w", path, err)
		}
		smp, err := sample.Decode(rec)
		if err != nil {
			return nil, fmt.Errorf("corrupt archive %s: %w", path, err)
		}
		samples = append(samples, smp)
	}
}
