package archive

import "github.com/axiolab/bytelog/internal/record"

// MessageIterator lazily decodes a fixed sequence of archive entries into
// LogMessage values.
//
// Usage:
//
//	it, err := reader.IterMessages(nil)
//	for it.Next() {
//		msg := it.Message()
//		// ...
//	}
//	if err := it.Err(); err != nil {
//		// ...
//	}
type MessageIterator struct {
	reader   *LogArchiveReader
	keys     []string
	position int
	current  record.LogMessage
	err      error
}

// Next advances to the next message. It returns false when the sequence is
// exhausted or an error occurred.
func (it *MessageIterator) Next() bool {
	if it.err != nil || it.position >= len(it.keys) {
		return false
	}

	msg, err := it.reader.decodeKey(it.keys[it.position])
	if err != nil {
		it.err = err
		return false
	}

	it.current = msg
	it.position++
	return true
}

// Message returns the message decoded by the last successful Next call.
func (it *MessageIterator) Message() record.LogMessage {
	return it.current
}

// Err returns the error that terminated iteration, if any.
func (it *MessageIterator) Err() error {
	return it.err
}

// Len returns the total number of keys in the sequence.
func (it *MessageIterator) Len() int {
	return len(it.keys)
}
