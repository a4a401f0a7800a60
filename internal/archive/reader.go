package archive

import (
	"io"
	"os"
	"sort"

	"github.com/parquet-go/parquet-go"

	"github.com/axiolab/bytelog/internal/errors"
	"github.com/axiolab/bytelog/internal/record"
)

// LogArchiveReader reads one source's archive and reconstructs absolute
// timestamps for its entries.
//
// The reader is lazy: nothing beyond an existence check happens at
// construction. The first access that needs archive contents performs a
// single linear scan that decodes the onset entry and caches the sorted
// list of message keys together with their frames. Archives are immutable,
// so the cache never invalidates.
type LogArchiveReader struct {
	path string

	onsetUS    uint64
	onsetKnown bool

	discovered bool
	keys       []string          // sorted non-onset entry keys
	frames     map[string][]byte // key → wire frame
}

// ReaderOption configures a LogArchiveReader.
type ReaderOption func(*LogArchiveReader)

// WithOnset supplies the absolute onset epoch (UTC microseconds) up front,
// bypassing onset discovery. Useful when the onset is known from an
// external clock record or when the archive predates onset entries.
func WithOnset(onsetUS uint64) ReaderOption {
	return func(r *LogArchiveReader) {
		r.onsetUS = onsetUS
		r.onsetKnown = true
	}
}

// OpenArchive creates a reader over the archive at path. It fails when the
// path does not exist.
func OpenArchive(path string, opts ...ReaderOption) (*LogArchiveReader, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errors.ErrArchiveNotFound, "%s", path)
		}
		return nil, errors.Wrap(err, "stat archive")
	}

	r := &LogArchiveReader{path: path}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Path returns the archive path.
func (r *LogArchiveReader) Path() string {
	return r.path
}

// OnsetTimestampUS returns the absolute UTC epoch microsecond value that
// all elapsed timestamps in the archive are measured from. The value comes
// from the archive's onset entry unless it was pre-supplied via WithOnset.
// An archive without an onset entry yields ErrOnsetNotFound; the condition
// is fatal for this reader, there is no partial mode.
func (r *LogArchiveReader) OnsetTimestampUS() (uint64, error) {
	if err := r.discover(); err != nil {
		return 0, err
	}
	return r.onsetUS, nil
}

// MessageCount returns the number of data entries in the archive, onset
// excluded.
func (r *LogArchiveReader) MessageCount() (int, error) {
	if err := r.discover(); err != nil {
		return 0, err
	}
	return len(r.keys), nil
}

// MessageKeys returns the sorted non-onset entry keys. The returned slice
// is shared; callers must not mutate it.
func (r *LogArchiveReader) MessageKeys() ([]string, error) {
	if err := r.discover(); err != nil {
		return nil, err
	}
	return r.keys, nil
}

// GetBatches partitions the sorted key list into max(1, workers *
// batchMultiplier) contiguous, nearly equal slices for parallel
// consumption; any remainder lands in the final slice. The partitioning is
// a pure function of the key list and the two parameters. An archive with
// no data entries yields nil.
func (r *LogArchiveReader) GetBatches(workers, batchMultiplier int) ([][]string, error) {
	if err := r.discover(); err != nil {
		return nil, err
	}
	if len(r.keys) == 0 {
		return nil, nil
	}

	if workers < 1 {
		workers = 1
	}
	if batchMultiplier < 1 {
		batchMultiplier = 1
	}

	count := workers * batchMultiplier
	if count > len(r.keys) {
		count = len(r.keys)
	}
	size := len(r.keys) / count

	batches := make([][]string, 0, count)
	for i := 0; i < count; i++ {
		start := i * size
		end := start + size
		if i == count-1 {
			end = len(r.keys) // remainder joins the final batch
		}
		batches = append(batches, r.keys[start:end])
	}
	return batches, nil
}

// IterMessages returns an iterator over the requested keys, decoding each
// entry into a LogMessage with an absolute timestamp. A nil keys slice
// iterates every data entry in chronological order. The iterator is finite
// and non-restartable; iterating the same keys over an unchanged archive
// yields identical output.
func (r *LogArchiveReader) IterMessages(keys []string) (*MessageIterator, error) {
	if err := r.discover(); err != nil {
		return nil, err
	}
	if keys == nil {
		keys = r.keys
	}
	return &MessageIterator{reader: r, keys: keys}, nil
}

// ReadAllMessages eagerly decodes every data entry. It returns the
// absolute timestamps and the payloads as index-aligned slices sorted by
// elapsed time.
func (r *LogArchiveReader) ReadAllMessages() ([]uint64, [][]byte, error) {
	it, err := r.IterMessages(nil)
	if err != nil {
		return nil, nil, err
	}

	timestamps := make([]uint64, 0, len(r.keys))
	payloads := make([][]byte, 0, len(r.keys))
	for it.Next() {
		msg := it.Message()
		timestamps = append(timestamps, msg.TimestampUS)
		payloads = append(payloads, msg.Payload)
	}
	if err := it.Err(); err != nil {
		return nil, nil, err
	}
	return timestamps, payloads, nil
}

// discover performs the one-time linear scan over the archive. The scan
// serves two purposes at once: it decodes the onset entry (unless one was
// pre-supplied) and caches the sorted non-onset keys with their frames.
func (r *LogArchiveReader) discover() error {
	if r.discovered {
		return nil
	}

	f, err := os.Open(r.path)
	if err != nil {
		return errors.Wrap(err, "open archive")
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "stat archive")
	}
	pf, err := parquet.OpenFile(f, st.Size(), parquet.ReadBufferSize(1024*1024))
	if err != nil {
		return errors.Wrap(err, "open parquet archive")
	}

	reader := parquet.NewGenericReader[EntryRow](pf)
	defer reader.Close()

	keys := make([]string, 0, reader.NumRows())
	frames := make(map[string][]byte, reader.NumRows())
	onsetFound := false
	var onsetUS uint64

	rows := make([]EntryRow, 256)
	for {
		n, err := reader.Read(rows)
		for i := 0; i < n; i++ {
			row := rows[i]
			if record.IsOnsetKey(row.Key) {
				pkg, err := record.DecodeFrame(row.Frame)
				if err != nil {
					return errors.Wrapf(err, "onset entry %s", row.Key)
				}
				epoch, err := record.DecodeOnsetPayload(pkg.Payload)
				if err != nil {
					return errors.Wrapf(err, "onset entry %s", row.Key)
				}
				onsetUS = uint64(epoch)
				onsetFound = true
				continue
			}
			keys = append(keys, row.Key)
			frames[row.Key] = append([]byte(nil), row.Frame...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "read archive")
		}
	}

	if !r.onsetKnown {
		if !onsetFound {
			return errors.Wrapf(errors.ErrOnsetNotFound, "archive %s", r.path)
		}
		r.onsetUS = onsetUS
		r.onsetKnown = true
	}

	sort.Strings(keys)
	r.keys = keys
	r.frames = frames
	r.discovered = true
	return nil
}

// decodeKey produces the LogMessage for one cached entry key.
func (r *LogArchiveReader) decodeKey(key string) (record.LogMessage, error) {
	frame, ok := r.frames[key]
	if !ok {
		return record.LogMessage{}, errors.Wrapf(errors.ErrInvalidKey, "entry %s not in archive", key)
	}

	pkg, err := record.DecodeFrame(frame)
	if err != nil {
		return record.LogMessage{}, errors.Wrapf(err, "entry %s", key)
	}

	return record.LogMessage{
		TimestampUS: r.onsetUS + pkg.AcquisitionTime,
		Payload:     pkg.Payload,
	}, nil
}
