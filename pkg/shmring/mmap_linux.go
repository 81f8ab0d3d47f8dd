//go:build linux && amd64

package shmring

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mmapAt is a thin wrapper around the raw mmap(2) syscall that, unlike
// golang.org/x/sys/unix.Mmap, accepts an explicit address. It is needed for
// the fixed-address remaps that build the double-mapped ring: the stdlib
// and x/sys wrappers only ever pass addr=0 and let the kernel choose.
func mmapAt(addr uintptr, length uintptr, prot, flags, fd int, offset int64) (uintptr, error) {
	ret, _, errno := unix.Syscall6(
		unix.SYS_MMAP,
		addr,
		length,
		uintptr(prot),
		uintptr(flags),
		uintptr(fd),
		uintptr(offset),
	)
	if errno != 0 {
		return 0, fmt.Errorf("mmap: %w", errno)
	}
	return ret, nil
}

func munmapAt(addr uintptr, length uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, length, 0)
	if errno != 0 {
		return fmt.Errorf("munmap: %w", errno)
	}
	return nil
}

// hugePageFlag returns the MAP_HUGETLB flag combination matching pageSize,
// or 0 for ordinary 4 KiB pages.
func hugePageFlag(pageSize uint64) int {
	switch pageSize {
	case 2 << 20: // 2 MiB
		return unix.MAP_HUGETLB | unix.MAP_HUGE_2MB
	case 1 << 30: // 1 GiB
		return unix.MAP_HUGETLB | unix.MAP_HUGE_1GB
	default:
		return 0
	}
}

// reserveDoubleMapping reserves a contiguous, otherwise-unused range of
// process address space of size pageSize+2*capacity and maps the segment's
// file into it three times: the header page at offset 0, then the data
// region at file offset pageSize mapped twice back to back. The second
// data mapping aliases the same physical pages as the first, so any byte
// range that starts inside the ring and runs past its end is still backed
// by valid, contiguous virtual memory - the defining trick of this queue.
//
// writable controls whether the two data mappings are opened for writing;
// the producer needs PROT_WRITE, the consumer maps them read-only.
func reserveDoubleMapping(fd int, capacity, pageSize uint64, writable bool) ([]byte, error) {
	total := pageSize + 2*capacity
	huge := hugePageFlag(pageSize)

	base, err := mmapAt(0, uintptr(total), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|huge, -1, 0)
	if err != nil {
		return nil, fmt.Errorf("reserve address range: %w", err)
	}

	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	fixedFlags := unix.MAP_SHARED | unix.MAP_FIXED | huge

	rollback := func() { munmapAt(base, uintptr(total)) }

	if _, err := mmapAt(base, uintptr(pageSize), unix.PROT_READ|unix.PROT_WRITE, fixedFlags, fd, 0); err != nil {
		rollback()
		return nil, fmt.Errorf("map header page: %w", err)
	}
	if _, err := mmapAt(base+uintptr(pageSize), uintptr(capacity), prot, fixedFlags, fd, int64(pageSize)); err != nil {
		rollback()
		return nil, fmt.Errorf("map data region: %w", err)
	}
	if _, err := mmapAt(base+uintptr(pageSize)+uintptr(capacity), uintptr(capacity), prot, fixedFlags, fd, int64(pageSize)); err != nil {
		rollback()
		return nil, fmt.Errorf("map data region (alias): %w", err)
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(base)), total), nil
}

// unmapAll releases the full pageSize+2*capacity range mapped by
// reserveDoubleMapping.
func unmapAll(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	return munmapAt(uintptr(unsafe.Pointer(&mem[0])), uintptr(len(mem)))
}

// prefault forces physical page allocation for mem by hinting the access
// pattern and then writing zeros across the whole range, so that the first
// hot-path write from the producer does not stall on a page fault.
func prefault(mem []byte) {
	if len(mem) == 0 {
		return
	}
	_ = unix.Madvise(mem, unix.MADV_WILLNEED)
	clear(mem)
}
