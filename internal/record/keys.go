package record

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/axiolab/bytelog/internal/errors"
)

// Entry key format: "{source_id:03d}_{elapsed_us:020d}". The widths cover
// the full uint8 and uint64 ranges so keys within one source sort
// lexicographically in chronological order. The onset entry is the unique
// key with the all-zero elapsed suffix.

const (
	sourceWidth  = 3
	elapsedWidth = 20

	// KeyLength is the fixed length of a well-formed entry key.
	KeyLength = sourceWidth + 1 + elapsedWidth

	// FileSuffix is the extension of per-record log files.
	FileSuffix = ".bin"
)

// FormatKey builds the entry key for a source and elapsed timestamp.
func FormatKey(sourceID uint8, elapsedUS uint64) string {
	return fmt.Sprintf("%03d_%020d", sourceID, elapsedUS)
}

// ParseKey splits an entry key back into its source and elapsed fields.
func ParseKey(key string) (sourceID uint8, elapsedUS uint64, err error) {
	if len(key) != KeyLength || key[sourceWidth] != '_' {
		return 0, 0, errors.Wrapf(errors.ErrInvalidKey, "malformed key %q", key)
	}

	source, err := strconv.ParseUint(key[:sourceWidth], 10, 8)
	if err != nil {
		return 0, 0, errors.Wrapf(errors.ErrInvalidKey, "source field of %q", key)
	}

	elapsed, err := strconv.ParseUint(key[sourceWidth+1:], 10, 64)
	if err != nil {
		return 0, 0, errors.Wrapf(errors.ErrInvalidKey, "elapsed field of %q", key)
	}

	return uint8(source), elapsed, nil
}

// IsOnsetKey reports whether the key carries the all-zero elapsed suffix.
func IsOnsetKey(key string) bool {
	_, elapsed, err := ParseKey(key)
	return err == nil && elapsed == OnsetTime
}

// OnsetKey returns the onset entry key for a source.
func OnsetKey(sourceID uint8) string {
	return FormatKey(sourceID, OnsetTime)
}

// FileName returns the per-record file name for a key.
func FileName(key string) string {
	return key + FileSuffix
}

// KeyFromFileName extracts the entry key from a per-record file name.
func KeyFromFileName(name string) (string, error) {
	key, ok := strings.CutSuffix(name, FileSuffix)
	if !ok {
		return "", errors.Wrapf(errors.ErrInvalidKey, "file name %q lacks %s suffix", name, FileSuffix)
	}
	if _, _, err := ParseKey(key); err != nil {
		return "", err
	}
	return key, nil
}
