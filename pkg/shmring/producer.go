//go:build linux && amd64

package shmring

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Producer owns the write side of a ring: it reserves contiguous byte
// ranges, commits what it actually filled, and signals EOF at teardown. A
// Producer must only ever be used from the one goroutine/thread that is
// pinned to the core doing the writing; none of its state is safe to touch
// from the consumer side.
type Producer struct {
	hdr  *Header
	mem  []byte // full pageSize+2*capacity mapping, kept only to unmap
	data []byte // double-mapped data region, length 2*capacity

	dirFd int
	name  string

	capacity uint64
	mask     uint64
	pageSize uint64

	localTail uint64 // cached copy of the consumer's tail
	reserved  uint64 // size of the outstanding, uncommitted reservation

	closed atomic.Bool
}

// NewProducer creates a new ring named name with the given capacity inside
// dir (DefaultDir if empty), publishes it, and returns a ready-to-use
// Producer. mode is the file mode the backing segment is created with.
func NewProducer(name string, capacity uint64, dir string, mode uint32) (*Producer, error) {
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
	if err := validateCapacity(capacity, pageSize); err != nil {
		return nil, err
	}

	tmpFd, err := createUnlinkedFile(dirFd, mode)
	if err != nil {
		return nil, err
	}
	closeTmp := true
	defer func() {
		if closeTmp {
			unix.Close(tmpFd)
		}
	}()

	if err := retryEINTR(func() error { return unix.Ftruncate(tmpFd, int64(pageSize+capacity)) }); err != nil {
		return nil, fmt.Errorf("resize segment: %w", err)
	}

	mem, err := reserveDoubleMapping(tmpFd, capacity, pageSize, true)
	if err != nil {
		return nil, err
	}
	unmapped := false
	rollbackMem := func() {
		if !unmapped {
			unmapAll(mem)
		}
	}
	defer rollbackMem()

	data := mem[pageSize : pageSize+2*capacity]
	prefault(data)

	hdr := (*Header)(unsafe.Pointer(&mem[0]))
	hdr.initImmutable(capacity, pageSize)
	hdr.storeHeadRelease(0)
	hdr.storeTailRelease(0)

	if err := publish(tmpFd, dirFd, name); err != nil {
		return nil, err
	}

	// The mapping keeps the file's pages alive; the fd is no longer
	// needed once every mapping referencing it has been established.
	unix.Close(tmpFd)
	closeTmp = false

	closeDir = false
	unmapped = true // ownership of mem now belongs to the Producer

	return &Producer{
		hdr:      hdr,
		mem:      mem,
		data:     data,
		dirFd:    dirFd,
		name:     name,
		capacity: capacity,
		mask:     capacity - 1,
		pageSize: pageSize,
	}, nil
}

// Capacity returns the ring's data capacity in bytes.
func (p *Producer) Capacity() uint64 { return p.capacity }

// PageSize returns the page size of the backing filesystem.
func (p *Producer) PageSize() uint64 { return p.pageSize }

// Used returns a snapshot of the number of bytes the consumer has not yet
// committed as read. Advisory only.
func (p *Producer) Used() uint64 {
	head := p.hdr.loadHeadRelaxed()
	tail := p.hdr.loadTailAcquire()
	return used(head, tail)
}

// Free returns a snapshot of the bytes currently available to Push.
func (p *Producer) Free() uint64 { return p.capacity - p.Used() }

// Empty reports whether the ring currently holds no unread bytes.
func (p *Producer) Empty() bool { return p.Used() == 0 }

// Full reports whether the ring currently has no room for a new byte.
func (p *Producer) Full() bool { return p.Used() == p.capacity }

// Push reserves n contiguous bytes for writing and returns them as a
// single slice, or ErrFull if the consumer has not freed enough space.
// Exactly one reservation may be outstanding at a time; Push again without
// an intervening Commit is a programming error.
func (p *Producer) Push(n uint64) ([]byte, error) {
	if p.reserved != 0 {
		panic("shmring: Push called with a reservation already outstanding")
	}

	head := p.hdr.loadHeadRelaxed()
	if n > free(p.capacity, head, p.localTail) {
		p.localTail = p.hdr.loadTailAcquire()
		if n > free(p.capacity, head, p.localTail) {
			return nil, ErrFull
		}
	}

	p.reserved = n
	start := head & p.mask
	return p.data[start : start+n], nil
}

// Commit publishes the first n bytes of the outstanding reservation
// (n may be less than what was reserved, e.g. after a short read() into
// an over-sized buffer) and clears the reservation. Committing without a
// prior Push is a programming error.
func (p *Producer) Commit(n uint64) {
	if p.reserved == 0 {
		panic("shmring: Commit called with no outstanding reservation")
	}
	if n > p.reserved {
		panic("shmring: Commit exceeds the outstanding reservation")
	}
	head := p.hdr.loadHeadRelaxed()
	p.hdr.storeHeadRelease(head + n)
	p.reserved = 0
}

// Close signals EOF to the consumer, unlinks the ring's directory entry,
// and releases the producer's mappings. Already-mapped consumers keep
// working until they, too, close.
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	p.hdr.storeEOFRelease()

	var firstErr error
	if err := unpublish(p.dirFd, p.name); err != nil {
		firstErr = err
	}
	if err := unmapAll(p.mem); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := unix.Close(p.dirFd); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close directory: %w", err)
	}
	return firstErr
}
