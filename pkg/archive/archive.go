package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Format identifies a supported archive container.
type Format string

const (
	FormatZip    Format = "zip"
	FormatTar    Format = "tar"
	FormatTarGz  Format = "tar.gz"
	FormatTarZst Format = "tar.zst"
)

var (
	// ErrUnsupportedFormat indicates the payload is not a known archive container.
	ErrUnsupportedFormat = errors.New("unsupported archive format")
	// ErrCorruptArchive indicates the archive could not be read.
	ErrCorruptArchive = errors.New("corrupt archive")
	// ErrArchiveTooLarge indicates extraction limits were exceeded.
	ErrArchiveTooLarge = errors.New("archive exceeds extraction limits")
	// ErrIllegalPath indicates an entry would be written outside the target directory.
	ErrIllegalPath = errors.New("archive entry escapes target directory")
)

const junkPrefix = "__MACOSX"

// Config groups extractor limits.
type Config struct {
	MaxBytes    int64
	MaxEntries  int
	Concurrency int
	Logger      zerolog.Logger
}

// Stats summarises one extraction.
type Stats struct {
	Format  Format `json:"format"`
	Files   int    `json:"files"`
	Dirs    int    `json:"dirs"`
	Skipped int    `json:"skipped"`
	Bytes   int64  `json:"bytes"`
}

// Extractor unpacks untrusted archives into a directory tree.
type Extractor struct {
	cfg    Config
	logger zerolog.Logger
}

type entry struct {
	name string
	dir  bool
	exec bool
	size int64
	open func() (io.ReadCloser, error)
}

// NewExtractor constructs an extractor, filling in default limits.
func NewExtractor(cfg Config) *Extractor {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 256 * 1024 * 1024
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}

	return &Extractor{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "archive_extractor").Logger(),
	}
}

// Detect sniffs the archive container from its content.
func Detect(payload []byte) (Format, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrCorruptArchive)
	}

	for mt := mimetype.Detect(payload); mt != nil; mt = mt.Parent() {
		switch {
		case mt.Is("application/zip"):
			return FormatZip, nil
		case mt.Is("application/zstd"):
			return FormatTarZst, nil
		case mt.Is("application/gzip"):
			return FormatTarGz, nil
		case mt.Is("application/x-tar"):
			return FormatTar, nil
		}
	}

	return "", ErrUnsupportedFormat
}

// Skip reports whether an archive entry is platform noise that must not be written.
// The name is expected in normalised slash form.
func Skip(name string) bool {
	if name == junkPrefix || strings.HasPrefix(name, junkPrefix+"/") {
		return true
	}
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// normalize cleans an entry name. It returns "" for the archive root.
func normalize(raw string) (string, error) {
	name := strings.ReplaceAll(raw, "\\", "/")
	for strings.HasPrefix(name, "./") {
		name = strings.TrimPrefix(name, "./")
	}
	if name == "" || name == "." {
		return "", nil
	}
	if path.IsAbs(name) || strings.Contains(name, ":") {
		return "", fmt.Errorf("%w: %q", ErrIllegalPath, raw)
	}

	cleaned := path.Clean(name)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrIllegalPath, raw)
	}
	if cleaned == "." {
		return "", nil
	}
	return cleaned, nil
}

// Inspect validates the archive without writing anything.
func (e *Extractor) Inspect(payload []byte) (Stats, error) {
	format, err := Detect(payload)
	if err != nil {
		return Stats{}, err
	}

	entries, skipped, err := e.entries(format, payload)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Format: format, Skipped: skipped}
	for _, item := range entries {
		if item.dir {
			stats.Dirs++
			continue
		}
		stats.Files++
		stats.Bytes += item.size
	}
	return stats, nil
}

// Extract populates target with the archive's file tree. Directories are
// created first; file writes then run concurrently.
func (e *Extractor) Extract(ctx context.Context, payload []byte, target string) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	format, err := Detect(payload)
	if err != nil {
		return Stats{}, err
	}

	entries, skipped, err := e.entries(format, payload)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Format: format, Skipped: skipped}
	files := make([]entry, 0, len(entries))
	for _, item := range entries {
		if !item.dir {
			files = append(files, item)
			continue
		}
		if err := os.MkdirAll(filepath.Join(target, filepath.FromSlash(item.name)), 0o755); err != nil {
			return stats, fmt.Errorf("create directory %s: %w", item.name, err)
		}
		stats.Dirs++
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.cfg.Concurrency)
	for _, item := range files {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			return writeEntry(target, item)
		})
		stats.Files++
		stats.Bytes += item.size
	}

	if err := group.Wait(); err != nil {
		return stats, err
	}

	e.logger.Debug().
		Str("format", string(format)).
		Int("files", stats.Files).
		Int("dirs", stats.Dirs).
		Int("skipped", stats.Skipped).
		Msg("archive extracted")

	return stats, nil
}

func writeEntry(target string, item entry) error {
	dest := filepath.Join(target, filepath.FromSlash(item.name))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", item.name, err)
	}

	reader, err := item.open()
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrCorruptArchive, item.name, err)
	}
	defer reader.Close()

	perm := fs.FileMode(0o644)
	if item.exec {
		perm = 0o755
	}

	file, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", item.name, err)
	}

	written, copyErr := io.Copy(file, io.LimitReader(reader, item.size+1))
	closeErr := file.Close()
	switch {
	case copyErr != nil:
		return fmt.Errorf("%w: read %s: %v", ErrCorruptArchive, item.name, copyErr)
	case written > item.size:
		return fmt.Errorf("%w: %s is larger than declared", ErrCorruptArchive, item.name)
	case closeErr != nil:
		return fmt.Errorf("write %s: %w", item.name, closeErr)
	}
	return nil
}

// entries lists the writable entries of the archive, deduplicated by name
// with the last occurrence winning, and the number of filtered entries.
func (e *Extractor) entries(format Format, payload []byte) ([]entry, int, error) {
	var (
		raw []entry
		err error
	)

	switch format {
	case FormatZip:
		raw, err = e.zipEntries(payload)
	case FormatTar:
		raw, err = e.tarEntries(bytes.NewReader(payload))
	case FormatTarGz:
		var reader *gzip.Reader
		reader, err = gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
		}
		defer reader.Close()
		raw, err = e.tarEntries(reader)
	case FormatTarZst:
		var decoder *zstd.Decoder
		decoder, err = zstd.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
		}
		defer decoder.Close()
		raw, err = e.tarEntries(decoder)
	default:
		return nil, 0, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, 0, err
	}

	skipped := 0
	index := make(map[string]int, len(raw))
	entries := make([]entry, 0, len(raw))
	for _, item := range raw {
		name, err := normalize(item.name)
		if err != nil {
			return nil, 0, err
		}
		if name == "" {
			continue
		}
		if Skip(name) {
			skipped++
			continue
		}
		item.name = name
		if pos, ok := index[name]; ok {
			entries[pos] = item
			continue
		}
		index[name] = len(entries)
		entries = append(entries, item)
	}

	return entries, skipped, nil
}

func (e *Extractor) zipEntries(payload []byte) ([]entry, error) {
	reader, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	if len(reader.File) > e.cfg.MaxEntries {
		return nil, fmt.Errorf("%w: %d entries", ErrArchiveTooLarge, len(reader.File))
	}

	var total uint64
	entries := make([]entry, 0, len(reader.File))
	for _, file := range reader.File {
		mode := file.Mode()
		if mode&fs.ModeSymlink != 0 {
			continue
		}
		if mode.IsDir() || strings.HasSuffix(file.Name, "/") {
			entries = append(entries, entry{name: file.Name, dir: true})
			continue
		}

		total += file.UncompressedSize64
		if total > uint64(e.cfg.MaxBytes) {
			return nil, fmt.Errorf("%w: uncompressed size above %d bytes", ErrArchiveTooLarge, e.cfg.MaxBytes)
		}

		entries = append(entries, entry{
			name: file.Name,
			exec: mode&0o111 != 0,
			size: int64(file.UncompressedSize64),
			open: file.Open,
		})
	}
	return entries, nil
}

func (e *Extractor) tarEntries(stream io.Reader) ([]entry, error) {
	reader := tar.NewReader(stream)
	var total int64
	entries := make([]entry, 0, 32)

	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
		}
		if len(entries) >= e.cfg.MaxEntries {
			return nil, fmt.Errorf("%w: more than %d entries", ErrArchiveTooLarge, e.cfg.MaxEntries)
		}

		info := header.FileInfo()
		switch {
		case info.IsDir():
			entries = append(entries, entry{name: header.Name, dir: true})
		case info.Mode().IsRegular():
			remaining := e.cfg.MaxBytes - total
			data, err := io.ReadAll(io.LimitReader(reader, remaining+1))
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
			}
			total += int64(len(data))
			if total > e.cfg.MaxBytes {
				return nil, fmt.Errorf("%w: uncompressed size above %d bytes", ErrArchiveTooLarge, e.cfg.MaxBytes)
			}
			entries = append(entries, entry{
				name: header.Name,
				exec: info.Mode()&0o111 != 0,
				size: int64(len(data)),
				open: func() (io.ReadCloser, error) {
					return io.NopCloser(bytes.NewReader(data)), nil
				},
			})
		}
	}
	return entries, nil
}
