// Package record defines the units of data flowing through the logging
// pipeline: the LogPackage submitted by producers, its on-disk wire frame,
// the archive entry key scheme, and the reader-facing LogMessage.
package record

import (
	"encoding/binary"

	"github.com/axiolab/bytelog/internal/errors"
)

// Wire frame format (binary, little-endian):
// - SourceID (1 byte)
// - AcquisitionTime (8 bytes, microseconds)
// - Payload (N bytes)
//
// The frame is the unit persisted as one file and the unit stored inside
// one archive entry.

const (
	// HeaderSize is the fixed size of the frame header preceding the payload.
	HeaderSize = 9

	// OnsetTime is the reserved AcquisitionTime value marking an onset
	// record. The payload of an onset record holds an int64 little-endian
	// absolute UTC epoch microsecond value instead of producer data.
	OnsetTime uint64 = 0
)

// LogPackage carries one record from a producer to the saver workers.
// AcquisitionTime is the number of microseconds elapsed since the source's
// acquisition onset, except for the reserved OnsetTime value.
//
// Each source is expected to produce records sequentially with a timer
// fine enough to make every AcquisitionTime unique. The pipeline does not
// enforce this; duplicate times collapse to one archive entry.
type LogPackage struct {
	SourceID        uint8
	AcquisitionTime uint64
	Payload         []byte
}

// IsOnset reports whether the package is the onset record for its source.
func (p LogPackage) IsOnset() bool {
	return p.AcquisitionTime == OnsetTime
}

// Key returns the archive entry key for the package. Zero-padded decimal
// fields make lexicographic key order equal chronological order.
func (p LogPackage) Key() string {
	return FormatKey(p.SourceID, p.AcquisitionTime)
}

// EncodeFrame serializes the package into its wire frame.
func (p LogPackage) EncodeFrame() []byte {
	buf := make([]byte, HeaderSize+len(p.Payload))
	buf[0] = p.SourceID
	binary.LittleEndian.PutUint64(buf[1:HeaderSize], p.AcquisitionTime)
	copy(buf[HeaderSize:], p.Payload)
	return buf
}

// DecodeFrame parses a wire frame back into a LogPackage. The payload
// slice aliases the input buffer.
func DecodeFrame(frame []byte) (LogPackage, error) {
	if len(frame) < HeaderSize {
		return LogPackage{}, errors.Wrapf(errors.ErrInvalidFrame,
			"frame is %d bytes, need at least %d", len(frame), HeaderSize)
	}

	return LogPackage{
		SourceID:        frame[0],
		AcquisitionTime: binary.LittleEndian.Uint64(frame[1:HeaderSize]),
		Payload:         frame[HeaderSize:],
	}, nil
}

// NewOnsetPackage builds the onset record for a source. The epoch is the
// absolute UTC time, in microseconds, that all subsequent elapsed
// timestamps of the source are measured from.
func NewOnsetPackage(sourceID uint8, epochUS int64) LogPackage {
	return LogPackage{
		SourceID:        sourceID,
		AcquisitionTime: OnsetTime,
		Payload:         EncodeOnsetPayload(epochUS),
	}
}

// EncodeOnsetPayload serializes an absolute epoch microsecond value into
// the 8-byte onset payload.
func EncodeOnsetPayload(epochUS int64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(epochUS))
	return buf
}

// DecodeOnsetPayload parses the onset payload back into the absolute epoch
// microsecond value.
func DecodeOnsetPayload(payload []byte) (int64, error) {
	if len(payload) < 8 {
		return 0, errors.Wrapf(errors.ErrInvalidFrame,
			"onset payload is %d bytes, need 8", len(payload))
	}
	return int64(binary.LittleEndian.Uint64(payload)), nil
}

// LogMessage is the reader-facing view of one archived record. The
// timestamp is absolute: onset epoch plus the record's elapsed time.
// LogMessage values are derived during readback and never stored.
type LogMessage struct {
	TimestampUS uint64
	Payload     []byte
}
