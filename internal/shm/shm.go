// Package shm provides a named, fixed-size shared buffer with lock-guarded
// element access. The logging pipeline uses a one-byte buffer as the
// termination signal shared between the orchestrator and its saver workers.
//
// Workers run as goroutines within one process, so the buffer is backed by
// an in-process registry rather than an OS shared-memory segment. The API
// (Create, Connect, Read, Write, Disconnect, Destroy) and the one-lock-per
// -access discipline are kept, so swapping in an OS-backed region would not
// change any caller.
//
// Every Read and Write is individually mutually exclusive. Access is never
// transactional across a read-then-write pair; callers that need
// check-then-act semantics must tolerate the benign race.
package shm

import (
	"sync"

	"github.com/axiolab/bytelog/internal/errors"
)

var (
	registryMu sync.Mutex
	registry   = make(map[string]*Buffer)
)

// Buffer is a named fixed-size byte buffer shared between connected users.
type Buffer struct {
	name string

	mu        sync.Mutex
	data      []uint8
	destroyed bool
	connected int
}

// Create registers a new named buffer of the given size, zero-filled.
// If existOK is true, a leftover buffer with the same name is destroyed
// and replaced; otherwise creation fails.
func Create(name string, size int, existOK bool) (*Buffer, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if old, ok := registry[name]; ok {
		if !existOK {
			return nil, errors.Wrapf(errors.ErrBufferExists, "buffer %q", name)
		}
		old.markDestroyed()
		delete(registry, name)
	}

	b := &Buffer{
		name:      name,
		data:      make([]uint8, size),
		connected: 1,
	}
	registry[name] = b
	return b, nil
}

// Connect attaches to an existing named buffer.
func Connect(name string) (*Buffer, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	b, ok := registry[name]
	if !ok {
		return nil, errors.Wrapf(errors.ErrBufferNotFound, "buffer %q", name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return nil, errors.Wrapf(errors.ErrBufferDestroyed, "buffer %q", name)
	}
	b.connected++
	return b, nil
}

// Read returns the element at index i.
func (b *Buffer) Read(i int) (uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return 0, errors.Wrapf(errors.ErrBufferDestroyed, "buffer %q", b.name)
	}
	if b.connected <= 0 {
		return 0, errors.Wrapf(errors.ErrNotConnected, "buffer %q", b.name)
	}
	if i < 0 || i >= len(b.data) {
		return 0, errors.Wrapf(errors.ErrIndexOutOfRange, "index %d, size %d", i, len(b.data))
	}
	return b.data[i], nil
}

// Write stores v at index i.
func (b *Buffer) Write(i int, v uint8) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return errors.Wrapf(errors.ErrBufferDestroyed, "buffer %q", b.name)
	}
	if b.connected <= 0 {
		return errors.Wrapf(errors.ErrNotConnected, "buffer %q", b.name)
	}
	if i < 0 || i >= len(b.data) {
		return errors.Wrapf(errors.ErrIndexOutOfRange, "index %d, size %d", i, len(b.data))
	}
	b.data[i] = v
	return nil
}

// Disconnect detaches the caller from the buffer. The buffer stays
// registered until Destroy is called.
func (b *Buffer) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected > 0 {
		b.connected--
	}
}

// Destroy removes the buffer from the registry and invalidates all
// outstanding handles.
func (b *Buffer) Destroy() {
	registryMu.Lock()
	if registry[b.name] == b {
		delete(registry, b.name)
	}
	registryMu.Unlock()

	b.markDestroyed()
}

// Name returns the registered buffer name.
func (b *Buffer) Name() string {
	return b.name
}

// Size returns the buffer length in bytes.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

func (b *Buffer) markDestroyed() {
	b.mu.Lock()
	b.destroyed = true
	b.connected = 0
	b.mu.Unlock()
}
