package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/V4T54L/siem-forwarder/internal/domain"
)

const (
	segmentPrefix    = "dropped-"
	activeSuffix     = ".ndjson"
	sealedSuffix     = ".ndjson.gz"
	filePerm         = 0644
	maxLineSizeBytes = 4 << 20
)

// ErrArchiveFull is returned when a write would exceed the configured disk budget.
var ErrArchiveFull = errors.New("drop archive max total size exceeded")

// DropArchive stores events the forwarder dropped as newline-delimited JSON
// segments. Full segments are sealed with gzip; only the active segment is
// plain text.
type DropArchive struct {
	dir            string
	maxSegmentSize int64
	maxTotalSize   int64
	logger         *slog.Logger

	mu         sync.Mutex
	active     *os.File
	activeSize int64
	totalSize  int64
}

// NewDropArchive opens (or creates) an archive in dir.
func NewDropArchive(dir string, maxSegmentSize, maxTotalSize int64, logger *slog.Logger) (*DropArchive, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory %s: %w", dir, err)
	}

	a := &DropArchive{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		maxTotalSize:   maxTotalSize,
		logger:         logger.With("component", "drop_archive"),
	}

	total, err := a.diskUsage()
	if err != nil {
		return nil, err
	}
	a.totalSize = total

	if err := a.openLatestActive(); err != nil {
		return nil, err
	}
	return a, nil
}

// Write appends events to the active segment. The whole batch is rejected
// with ErrArchiveFull if it does not fit in the disk budget.
func (a *DropArchive) Write(ctx context.Context, events ...domain.SecurityEvent) error {
	if len(events) == 0 {
		return nil
	}

	var buf strings.Builder
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s for archive: %w", event.ID, err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.totalSize+int64(buf.Len()) > a.maxTotalSize {
		return fmt.Errorf("%w (%d + %d > %d)", ErrArchiveFull, a.totalSize, buf.Len(), a.maxTotalSize)
	}

	if a.active == nil {
		if err := a.newActive(); err != nil {
			return err
		}
	}

	n, err := a.active.WriteString(buf.String())
	a.activeSize += int64(n)
	a.totalSize += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write to archive segment: %w", err)
	}

	if a.activeSize >= a.maxSegmentSize {
		if err := a.seal(); err != nil {
			a.logger.Error("Failed to seal archive segment", "error", err)
		}
	}
	return nil
}

// Replay reads every archived event, oldest segment first.
func (a *DropArchive) Replay(ctx context.Context, handler func(event domain.SecurityEvent) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active != nil {
		if err := a.active.Sync(); err != nil {
			a.logger.Warn("Failed to sync active segment before replay", "error", err)
		}
	}

	segments, err := a.sortedSegments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		a.logger.Info("Archive is empty, nothing to replay")
		return nil
	}
	a.logger.Info("Starting archive replay", "segment_count", len(segments))

	for _, path := range segments {
		if err := a.replaySegment(ctx, path, handler); err != nil {
			return err
		}
	}

	a.logger.Info("Archive replay completed")
	return nil
}

func (a *DropArchive) replaySegment(ctx context.Context, path string, handler func(event domain.SecurityEvent) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open segment %s for replay: %w", path, err)
	}
	defer file.Close()

	var r io.Reader = file
	if strings.HasSuffix(path, sealedSuffix) {
		zr, err := gzip.NewReader(file)
		if err != nil {
			return fmt.Errorf("failed to open sealed segment %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSizeBytes)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var event domain.SecurityEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			a.logger.Warn("Failed to unmarshal archived event, skipping", "segment", filepath.Base(path), "error", err)
			continue
		}
		if err := handler(event); err != nil {
			a.logger.Error("Archive replay handler failed, stopping replay", "error", err)
			return fmt.Errorf("replay handler failed: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error scanning segment %s: %w", path, err)
	}
	return nil
}

// Truncate removes every segment.
func (a *DropArchive) Truncate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active != nil {
		a.active.Close()
		a.active = nil
		a.activeSize = 0
	}

	segments, err := a.sortedSegments()
	if err != nil {
		return err
	}

	var errs []error
	for _, path := range segments {
		if err := os.Remove(path); err != nil {
			a.logger.Error("Failed to remove archive segment", "path", path, "error", err)
			errs = append(errs, err)
		}
	}

	total, err := a.diskUsage()
	if err != nil {
		errs = append(errs, err)
	}
	a.totalSize = total

	a.logger.Info("Archive truncated", "segments", len(segments))
	return errors.Join(errs...)
}

// Size returns the bytes currently used on disk.
func (a *DropArchive) Size() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalSize
}

// Close closes the active segment.
func (a *DropArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return nil
	}
	err := a.active.Close()
	a.active = nil
	return err
}

func (a *DropArchive) newActive() error {
	name := fmt.Sprintf("%s%020d%s", segmentPrefix, time.Now().UnixNano(), activeSuffix)
	path := filepath.Join(a.dir, name)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create archive segment %s: %w", path, err)
	}
	a.active = f
	a.activeSize = 0
	return nil
}

// seal compresses the active segment and removes the plain file. The next
// Write opens a new active segment.
func (a *DropArchive) seal() error {
	if a.active == nil {
		return nil
	}
	path := a.active.Name()
	if err := a.active.Close(); err != nil {
		a.logger.Warn("Failed to close archive segment before sealing", "error", err)
	}
	a.active = nil
	a.activeSize = 0

	sealedPath := strings.TrimSuffix(path, activeSuffix) + sealedSuffix
	if err := compressFile(path, sealedPath); err != nil {
		os.Remove(sealedPath)
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove sealed source %s: %w", path, err)
	}

	total, err := a.diskUsage()
	if err != nil {
		return err
	}
	a.totalSize = total
	a.logger.Info("Sealed archive segment", "path", sealedPath)
	return nil
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		return fmt.Errorf("failed to compress %s: %w", src, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish %s: %w", dst, err)
	}
	return out.Sync()
}

// openLatestActive reopens an unsealed segment left by a previous run.
func (a *DropArchive) openLatestActive() error {
	segments, err := a.sortedSegments()
	if err != nil {
		return err
	}

	for i := len(segments) - 1; i >= 0; i-- {
		path := segments[i]
		if !strings.HasSuffix(path, activeSuffix) {
			continue
		}
		stat, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat segment %s: %w", path, err)
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, filePerm)
		if err != nil {
			return fmt.Errorf("failed to open segment %s: %w", path, err)
		}
		a.active = f
		a.activeSize = stat.Size()
		a.logger.Info("Opened existing archive segment", "path", path, "size", a.activeSize)

		if a.activeSize >= a.maxSegmentSize {
			return a.seal()
		}
		return nil
	}
	return nil
}

func (a *DropArchive) sortedSegments() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var segments []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, segmentPrefix) {
			continue
		}
		if strings.HasSuffix(name, activeSuffix) || strings.HasSuffix(name, sealedSuffix) {
			segments = append(segments, filepath.Join(a.dir, name))
		}
	}
	sort.Strings(segments)
	return segments, nil
}

func (a *DropArchive) diskUsage() (int64, error) {
	segments, err := a.sortedSegments()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, path := range segments {
		info, err := os.Stat(path)
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}
