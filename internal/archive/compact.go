package archive

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/parquet-go/parquet-go"
	"golang.org/x/sync/errgroup"

	"github.com/axiolab/bytelog/internal/errors"
	"github.com/axiolab/bytelog/internal/logging"
	"github.com/axiolab/bytelog/internal/record"
)

// Options configures archive assembly.
type Options struct {
	// MaxWorkers bounds how many sources are assembled in parallel.
	// Default: number of CPUs minus two, at least one.
	MaxWorkers int

	// BatchSize is how many per-record files are loaded and written per
	// Parquet write call. It bounds peak memory instead of materializing
	// a full source stream at once. Default: 1024.
	BatchSize int

	// RemoveSources deletes the per-record files of a source once its
	// archive has been written successfully, and verified when
	// VerifyIntegrity is set. Sources are never removed before that.
	RemoveSources bool

	// VerifyIntegrity re-reads each finished archive and byte-compares
	// every entry against its source file before any removal.
	VerifyIntegrity bool

	// Compression selects the archive compression codec. Default: zstd.
	Compression CompressionType
}

// withDefaults fills unset fields.
func (o Options) withDefaults() Options {
	if o.MaxWorkers < 1 {
		o.MaxWorkers = runtime.NumCPU() - 2
		if o.MaxWorkers < 1 {
			o.MaxWorkers = 1
		}
	}
	if o.BatchSize < 1 {
		o.BatchSize = 1024
	}
	return o
}

// sourceFile is one per-record file scheduled for archival.
type sourceFile struct {
	key       string
	elapsedUS uint64
	path      string
}

// AssembleArchives consolidates all per-record files under logDir into one
// archive per unique source. Entries within each archive are ordered by
// their elapsed acquisition timestamp. It returns the assembled archive
// paths keyed by source id.
//
// This stage must only run after the DataLogger that filled logDir has
// fully stopped; no locking exists between the two stages.
func AssembleArchives(ctx context.Context, logDir string, opts Options) (map[uint8]string, error) {
	opts = opts.withDefaults()
	log := logging.Component("compactor")

	sources, err := scanLogDir(logDir)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		log.Info("no per-record files found", "dir", logDir)
		return map[uint8]string{}, nil
	}

	var (
		mu       sync.Mutex
		archives = make(map[uint8]string, len(sources))
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.MaxWorkers)

	for sourceID, files := range sources {
		sourceID, files := sourceID, files
		g.Go(func() error {
			path, err := assembleSource(ctx, logDir, sourceID, files, opts)
			if err != nil {
				return errors.Wrapf(err, "source %d", sourceID)
			}

			mu.Lock()
			archives[sourceID] = path
			mu.Unlock()

			log.Info("archive assembled",
				"source_id", sourceID,
				"entries", len(files),
				"path", path)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return archives, nil
}

// scanLogDir groups the per-record files by source id and sorts each group
// chronologically. Files that do not carry a well-formed key are ignored.
func scanLogDir(logDir string) (map[uint8][]sourceFile, error) {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errors.ErrLogDirNotFound, "%s", logDir)
		}
		return nil, errors.Wrap(err, "read log directory")
	}

	sources := make(map[uint8][]sourceFile)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key, err := record.KeyFromFileName(entry.Name())
		if err != nil {
			continue
		}
		sourceID, elapsed, err := record.ParseKey(key)
		if err != nil {
			continue
		}
		sources[sourceID] = append(sources[sourceID], sourceFile{
			key:       key,
			elapsedUS: elapsed,
			path:      filepath.Join(logDir, entry.Name()),
		})
	}

	for _, files := range sources {
		sort.Slice(files, func(i, j int) bool {
			return files[i].elapsedUS < files[j].elapsedUS
		})
	}
	return sources, nil
}

// assembleSource streams one source's files into a Parquet archive. The
// archive is written under a temporary name and renamed into place, so an
// interrupted run leaves the per-record files untouched and no partial
// archive behind the final name.
func assembleSource(ctx context.Context, logDir string, sourceID uint8, files []sourceFile, opts Options) (string, error) {
	outPath := filepath.Join(logDir, FileName(sourceID))
	tmpPath := outPath + ".tmp"

	if err := writeArchive(ctx, tmpPath, sourceID, files, opts); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return "", errors.Wrap(err, "finalize archive")
	}

	if opts.VerifyIntegrity {
		if err := verifyArchive(outPath, files); err != nil {
			return "", err
		}
	}

	if opts.RemoveSources {
		for _, f := range files {
			if err := os.Remove(f.path); err != nil {
				return "", errors.Wrapf(err, "remove source %s", f.key)
			}
		}
	}
	return outPath, nil
}

// writeArchive writes the files into a Parquet archive in batches.
// A source file that cannot be read is skipped: a single corrupted record
// is absent from the archive rather than failing the whole source.
func writeArchive(ctx context.Context, path string, sourceID uint8, files []sourceFile, opts Options) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create archive")
	}

	writer := parquet.NewGenericWriter[EntryRow](f,
		parquet.Compression(getCompression(opts.Compression)))

	log := logging.Component("compactor")
	rows := make([]EntryRow, 0, opts.BatchSize)

	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		if _, err := writer.Write(rows); err != nil {
			return errors.Wrap(err, "write rows")
		}
		rows = rows[:0]
		return nil
	}

	for _, sf := range files {
		if err := ctx.Err(); err != nil {
			writer.Close()
			f.Close()
			return err
		}

		frame, err := os.ReadFile(sf.path)
		if err != nil {
			log.Warn("skipping unreadable record file", "key", sf.key, "error", err)
			continue
		}

		rows = append(rows, EntryRow{
			Key:       sf.key,
			SourceID:  int32(sourceID),
			ElapsedUS: int64(sf.elapsedUS),
			Frame:     frame,
		})
		if len(rows) >= opts.BatchSize {
			if err := flush(); err != nil {
				writer.Close()
				f.Close()
				return err
			}
		}
	}

	if err := flush(); err != nil {
		writer.Close()
		f.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		f.Close()
		return errors.Wrap(err, "close writer")
	}
	return f.Close()
}

// verifyArchive byte-compares every archive entry against its source file.
func verifyArchive(path string, files []sourceFile) error {
	want := make(map[string]string, len(files))
	for _, f := range files {
		want[f.key] = f.path
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open archive for verification")
	}
	defer f.Close()

	reader := parquet.NewGenericReader[EntryRow](f)
	defer reader.Close()

	seen := 0
	rows := make([]EntryRow, 256)
	for {
		n, err := reader.Read(rows)
		for i := 0; i < n; i++ {
			row := rows[i]
			srcPath, ok := want[row.Key]
			if !ok {
				return errors.Wrapf(errors.ErrIntegrityCheck, "unexpected entry %s", row.Key)
			}
			original, readErr := os.ReadFile(srcPath)
			if readErr != nil {
				return errors.Wrapf(readErr, "reread source %s", row.Key)
			}
			if !bytes.Equal(original, row.Frame) {
				return errors.Wrapf(errors.ErrIntegrityCheck, "entry %s", row.Key)
			}
			seen++
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "read archive for verification")
		}
	}

	if seen != len(files) {
		return errors.Wrapf(errors.ErrIntegrityCheck,
			"archive holds %d entries, sources hold %d", seen, len(files))
	}
	return nil
}
