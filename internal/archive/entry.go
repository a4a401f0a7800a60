// Package archive implements the offline compaction stage and the archive
// reader. Compaction folds the per-record files written by the logger into
// one indexed Parquet archive per source; the reader discovers the time
// origin and partitions archive entries for parallel consumption.
package archive

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/axiolab/bytelog/internal/errors"
)

// EntryRow is the Parquet representation of one archive entry. Rows are
// written in ascending Key order, so row order equals chronological order
// within the archive. Frame holds the record's full wire frame, header
// included, exactly as it was persisted on disk.
type EntryRow struct {
	Key       string `parquet:"key,zstd"`
	SourceID  int32  `parquet:"source_id"`
	ElapsedUS int64  `parquet:"elapsed_us"`
	Frame     []byte `parquet:"frame,zstd"`
}

// CompressionType represents a Parquet compression algorithm. The zero
// value is zstd.
type CompressionType int

const (
	CompressionZstd CompressionType = iota
	CompressionSnappy
	CompressionNone
)

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "none":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionNone:
		return &parquet.Uncompressed
	default:
		return &parquet.Zstd
	}
}

// archiveSuffix is the extension of archive files.
const archiveSuffix = "_log.parquet"

// FileName returns the archive file name for a source.
func FileName(sourceID uint8) string {
	return fmt.Sprintf("%d%s", sourceID, archiveSuffix)
}

// SourceFromFileName extracts the source id from an archive file name.
func SourceFromFileName(name string) (uint8, error) {
	stem, ok := strings.CutSuffix(name, archiveSuffix)
	if !ok {
		return 0, errors.Wrapf(errors.ErrInvalidKey, "archive name %q lacks %s suffix", name, archiveSuffix)
	}
	id, err := strconv.ParseUint(stem, 10, 8)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidKey, "archive name %q", name)
	}
	return uint8(id), nil
}
