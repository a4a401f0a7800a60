package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/axiolab/bytelog/internal/errors"
	"github.com/axiolab/bytelog/internal/record"
)

const testOnsetUS = uint64(1700000000000000)

// writeTestArchive builds an archive file directly, bypassing assembly.
func writeTestArchive(t *testing.T, path string, packages []record.LogPackage) {
	t.Helper()

	rows := make([]EntryRow, 0, len(packages))
	for _, pkg := range packages {
		rows = append(rows, EntryRow{
			Key:       pkg.Key(),
			SourceID:  int32(pkg.SourceID),
			ElapsedUS: int64(pkg.AcquisitionTime),
			Frame:     pkg.EncodeFrame(),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	writer := parquet.NewGenericWriter[EntryRow](f)
	if _, err := writer.Write(rows); err != nil {
		t.Fatalf("write archive rows: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close archive: %v", err)
	}
}

// testArchive creates an archive with an onset entry and count data
// messages for source 1. Message i (zero-based) carries elapsed time
// (i+1)*1000 and payload {i, i+1, i+2}.
func testArchive(t *testing.T, count int) string {
	t.Helper()

	packages := []record.LogPackage{record.NewOnsetPackage(1, int64(testOnsetUS))}
	for i := 0; i < count; i++ {
		packages = append(packages, record.LogPackage{
			SourceID:        1,
			AcquisitionTime: uint64(i+1) * 1000,
			Payload:         []byte{byte(i), byte(i + 1), byte(i + 2)},
		})
	}

	path := filepath.Join(t.TempDir(), FileName(1))
	writeTestArchive(t, path, packages)
	return path
}

func TestOpenArchiveMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName(1))
	if _, err := OpenArchive(path); !errors.Is(err, errors.ErrArchiveNotFound) {
		t.Fatalf("expected ErrArchiveNotFound, got %v", err)
	}
}

func TestOnsetDiscovery(t *testing.T) {
	r, err := OpenArchive(testArchive(t, 5))
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}

	onset, err := r.OnsetTimestampUS()
	if err != nil {
		t.Fatalf("OnsetTimestampUS: %v", err)
	}
	if onset != testOnsetUS {
		t.Fatalf("expected onset %d, got %d", testOnsetUS, onset)
	}
}

func TestOnsetPreSupplied(t *testing.T) {
	// A supplied onset wins over the archive's own onset entry.
	custom := testOnsetUS + 999
	r, err := OpenArchive(testArchive(t, 3), WithOnset(custom))
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}

	onset, err := r.OnsetTimestampUS()
	if err != nil {
		t.Fatalf("OnsetTimestampUS: %v", err)
	}
	if onset != custom {
		t.Fatalf("expected supplied onset %d, got %d", custom, onset)
	}
}

func TestOnsetMissing(t *testing.T) {
	// Archive without an onset entry.
	path := filepath.Join(t.TempDir(), FileName(1))
	writeTestArchive(t, path, []record.LogPackage{
		{SourceID: 1, AcquisitionTime: 1000, Payload: []byte{1}},
	})

	r, err := OpenArchive(path)
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	if _, err := r.OnsetTimestampUS(); !errors.Is(err, errors.ErrOnsetNotFound) {
		t.Fatalf("expected ErrOnsetNotFound, got %v", err)
	}
	if _, err := r.MessageCount(); !errors.Is(err, errors.ErrOnsetNotFound) {
		t.Fatalf("expected ErrOnsetNotFound from MessageCount, got %v", err)
	}

	// With a supplied onset the same archive is fully readable.
	r, err = OpenArchive(path, WithOnset(testOnsetUS))
	if err != nil {
		t.Fatalf("OpenArchive with onset: %v", err)
	}
	count, err := r.MessageCount()
	if err != nil {
		t.Fatalf("MessageCount: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 message, got %d", count)
	}
}

func TestMessageCount(t *testing.T) {
	r, err := OpenArchive(testArchive(t, 10))
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}

	count, err := r.MessageCount()
	if err != nil {
		t.Fatalf("MessageCount: %v", err)
	}
	// The onset entry is not a message.
	if count != 10 {
		t.Fatalf("expected 10 messages, got %d", count)
	}
}

func TestGetBatchesPartitioning(t *testing.T) {
	r, err := OpenArchive(testArchive(t, 10))
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	keys, err := r.MessageKeys()
	if err != nil {
		t.Fatalf("MessageKeys: %v", err)
	}

	for _, workers := range []int{1, 2, 4} {
		for _, mult := range []int{1, 2, 4} {
			batches, err := r.GetBatches(workers, mult)
			if err != nil {
				t.Fatalf("GetBatches(%d, %d): %v", workers, mult, err)
			}

			want := workers * mult
			if want > len(keys) {
				want = len(keys)
			}
			if len(batches) != want {
				t.Fatalf("GetBatches(%d, %d): expected %d batches, got %d", workers, mult, want, len(batches))
			}

			// Concatenation reproduces the full key list in order.
			var flat []string
			for _, b := range batches {
				if len(b) == 0 {
					t.Fatalf("GetBatches(%d, %d): empty batch", workers, mult)
				}
				flat = append(flat, b...)
			}
			if len(flat) != len(keys) {
				t.Fatalf("GetBatches(%d, %d): %d keys covered, expected %d", workers, mult, len(flat), len(keys))
			}
			for i := range keys {
				if flat[i] != keys[i] {
					t.Fatalf("GetBatches(%d, %d): key %d is %q, expected %q", workers, mult, i, flat[i], keys[i])
				}
			}
		}
	}
}

func TestGetBatchesDeterministic(t *testing.T) {
	r, err := OpenArchive(testArchive(t, 7))
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}

	first, err := r.GetBatches(3, 1)
	if err != nil {
		t.Fatalf("GetBatches: %v", err)
	}
	second, err := r.GetBatches(3, 1)
	if err != nil {
		t.Fatalf("GetBatches: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("batch count changed between calls: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if len(first[i]) != len(second[i]) {
			t.Fatalf("batch %d size changed between calls", i)
		}
		for j := range first[i] {
			if first[i][j] != second[i][j] {
				t.Fatalf("batch %d key %d changed between calls", i, j)
			}
		}
	}
}

func TestGetBatchesEmptyArchive(t *testing.T) {
	// Only an onset entry, no data.
	path := filepath.Join(t.TempDir(), FileName(1))
	writeTestArchive(t, path, []record.LogPackage{record.NewOnsetPackage(1, int64(testOnsetUS))})

	r, err := OpenArchive(path)
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}

	count, err := r.MessageCount()
	if err != nil {
		t.Fatalf("MessageCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 messages, got %d", count)
	}

	batches, err := r.GetBatches(4, 2)
	if err != nil {
		t.Fatalf("GetBatches: %v", err)
	}
	if batches != nil {
		t.Fatalf("expected nil batches, got %d", len(batches))
	}
}

func TestIterMessagesAll(t *testing.T) {
	const count = 10
	r, err := OpenArchive(testArchive(t, count))
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}

	it, err := r.IterMessages(nil)
	if err != nil {
		t.Fatalf("IterMessages: %v", err)
	}
	if it.Len() != count {
		t.Fatalf("expected iterator length %d, got %d", count, it.Len())
	}

	i := 0
	for it.Next() {
		msg := it.Message()
		wantTS := testOnsetUS + uint64(i+1)*1000
		if msg.TimestampUS != wantTS {
			t.Fatalf("message %d: expected timestamp %d, got %d", i, wantTS, msg.TimestampUS)
		}
		wantPayload := []byte{byte(i), byte(i + 1), byte(i + 2)}
		if !bytes.Equal(msg.Payload, wantPayload) {
			t.Fatalf("message %d: payload %v, expected %v", i, msg.Payload, wantPayload)
		}
		i++
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	if i != count {
		t.Fatalf("iterated %d messages, expected %d", i, count)
	}
}

func TestIterMessagesSubset(t *testing.T) {
	r, err := OpenArchive(testArchive(t, 10))
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	keys, err := r.MessageKeys()
	if err != nil {
		t.Fatalf("MessageKeys: %v", err)
	}

	subset := []string{keys[2], keys[5], keys[7]}

	decode := func() []record.LogMessage {
		it, err := r.IterMessages(subset)
		if err != nil {
			t.Fatalf("IterMessages: %v", err)
		}
		var msgs []record.LogMessage
		for it.Next() {
			msgs = append(msgs, it.Message())
		}
		if err := it.Err(); err != nil {
			t.Fatalf("iterator error: %v", err)
		}
		return msgs
	}

	first := decode()
	if len(first) != len(subset) {
		t.Fatalf("expected %d messages, got %d", len(subset), len(first))
	}
	for i, want := range []int{2, 5, 7} {
		wantTS := testOnsetUS + uint64(want+1)*1000
		if first[i].TimestampUS != wantTS {
			t.Fatalf("message %d: expected timestamp %d, got %d", i, wantTS, first[i].TimestampUS)
		}
	}

	// Same keys, same archive, same output.
	second := decode()
	for i := range first {
		if first[i].TimestampUS != second[i].TimestampUS || !bytes.Equal(first[i].Payload, second[i].Payload) {
			t.Fatalf("repeat iteration diverged at message %d", i)
		}
	}
}

func TestIterMessagesUnknownKey(t *testing.T) {
	r, err := OpenArchive(testArchive(t, 3))
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}

	it, err := r.IterMessages([]string{record.FormatKey(1, 999999)})
	if err != nil {
		t.Fatalf("IterMessages: %v", err)
	}
	if it.Next() {
		t.Fatal("Next should fail for unknown key")
	}
	if !errors.Is(it.Err(), errors.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", it.Err())
	}
}

func TestReadAllMessagesOrder(t *testing.T) {
	const count = 25
	r, err := OpenArchive(testArchive(t, count))
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}

	timestamps, payloads, err := r.ReadAllMessages()
	if err != nil {
		t.Fatalf("ReadAllMessages: %v", err)
	}
	if len(timestamps) != count || len(payloads) != count {
		t.Fatalf("expected %d messages, got %d timestamps and %d payloads", count, len(timestamps), len(payloads))
	}
	for i := 1; i < len(timestamps); i++ {
		if timestamps[i] < timestamps[i-1] {
			t.Fatalf("timestamps not non-decreasing at %d: %d after %d", i, timestamps[i], timestamps[i-1])
		}
	}
}
