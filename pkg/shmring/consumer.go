//go:build linux && amd64

package shmring

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// pollInterval is how often NewConsumerTimeout retries while the named ring has
// not appeared yet. It is the only sanctioned blocking delay in the
// package - every other operation returns immediately.
const pollInterval = time.Millisecond

// Consumer owns the read side of a ring: it observes whatever the producer
// has committed as one contiguous slice and commits (advances past) the
// bytes it has actually consumed. Like Producer, a Consumer is not safe to
// share between goroutines/threads.
type Consumer struct {
	hdr  *Header
	mem  []byte
	data []byte

	dirFd int

	capacity uint64
	mask     uint64
	pageSize uint64

	localHead uint64 // cached copy of the producer's head

	closed atomic.Bool
}

// NewConsumer opens the ring named name inside dir (DefaultDir if empty).
// It fails immediately if the name does not yet exist; use NewConsumerTimeout
// to wait for a producer that has not published yet.
func NewConsumer(name, dir string) (*Consumer, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := validateName(name); err != nil {
		return nil, err
	}

	dirFd, err := openDirHandle(dir)
	if err != nil {
		return nil, err
	}
	closeDir := true
	defer func() {
		if closeDir {
			unix.Close(dirFd)
		}
	}()

	pageSize, err := statRAMBackedPageSize(dir)
	if err != nil {
		return nil, err
	}

	fd, err := openPublished(dirFd, name)
	if err != nil {
		return nil, err
	}
	defer unix.Close(fd)

	size, err := fileSize(fd)
	if err != nil {
		return nil, err
	}
	if size <= int64(pageSize) {
		return nil, fmt.Errorf("shmring: segment file too small: %d bytes", size)
	}
	capacity := uint64(size) - pageSize
	if err := validateCapacity(capacity, pageSize); err != nil {
		return nil, err
	}

	mem, err := reserveDoubleMapping(fd, capacity, pageSize, false)
	if err != nil {
		return nil, err
	}

	hdr := (*Header)(unsafe.Pointer(&mem[0]))
	if hdr.Version() != Version {
		unmapAll(mem)
		return nil, ErrUnsupportedVersion
	}

	closeDir = false

	return &Consumer{
		hdr:       hdr,
		mem:       mem,
		data:      mem[pageSize : pageSize+2*capacity],
		dirFd:     dirFd,
		capacity:  capacity,
		mask:      capacity - 1,
		pageSize:  pageSize,
		localHead: hdr.loadHeadAcquire(),
	}, nil
}

// NewConsumerTimeout behaves like NewConsumer but retries every
// pollInterval until the ring appears or timeout elapses, returning
// ErrTimeout in the latter case. It is the only blocking operation this
// package offers.
func NewConsumerTimeout(name, dir string, timeout time.Duration) (*Consumer, error) {
	deadline := time.Now().Add(timeout)
	for {
		c, err := NewConsumer(name, dir)
		if err == nil {
			return c, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		time.Sleep(pollInterval)
	}
}

// Capacity returns the ring's data capacity in bytes.
func (c *Consumer) Capacity() uint64 { return c.capacity }

// PageSize returns the page size of the backing filesystem.
func (c *Consumer) PageSize() uint64 { return c.pageSize }

// Used returns a snapshot of the number of unread bytes.
func (c *Consumer) Used() uint64 {
	head := c.hdr.loadHeadAcquire()
	tail := c.hdr.loadTailRelaxed()
	return used(head, tail)
}

// Free returns a snapshot of the room available to the producer.
func (c *Consumer) Free() uint64 { return c.capacity - c.Used() }

// Empty reports whether the ring currently holds no unread bytes.
func (c *Consumer) Empty() bool { return c.Used() == 0 }

// Full reports whether the ring is at capacity.
func (c *Consumer) Full() bool { return c.Used() == c.capacity }

// Eof reports whether the producer has signalled end of stream. It says
// nothing about whether unread bytes remain; drain with Pop until it
// returns io.EOF too.
func (c *Consumer) Eof() bool { return c.hdr.loadEOFAcquire() }

// Pop returns all currently readable bytes as a single contiguous slice.
// It returns ErrEmpty if nothing is available yet, or io.EOF if nothing is
// available and the producer has torn down. Callers that get ErrEmpty are
// expected to spin or back off and call Pop again; there is no blocking
// variant.
func (c *Consumer) Pop() ([]byte, error) {
	tail := c.hdr.loadTailRelaxed()
	size := used(c.localHead, tail)
	if size == 0 {
		c.localHead = c.hdr.loadHeadAcquire()
		size = used(c.localHead, tail)
	}
	if size == 0 {
		if c.hdr.loadEOFAcquire() {
			return nil, io.EOF
		}
		return nil, ErrEmpty
	}
	start := tail & c.mask
	return c.data[start : start+size], nil
}

// Commit marks n bytes previously returned by Pop as read, advancing the
// consumer's tail so the producer may reuse that space. n must be no more
// than the length of the slice Pop last returned.
func (c *Consumer) Commit(n uint64) {
	tail := c.hdr.loadTailRelaxed()
	c.hdr.storeTailRelease(tail + n)
}

// Close releases the consumer's mappings and directory handle. It does
// not touch the ring's directory entry; only the producer unlinks it.
func (c *Consumer) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	var firstErr error
	if err := unmapAll(c.mem); err != nil {
		firstErr = err
	}
	if err := unix.Close(c.dirFd); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close directory: %w", err)
	}
	return firstErr
}
