//go:build linux && amd64

package shmring

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// DefaultDir is the directory NewProducer and NewConsumer use when the caller passes an
// empty dir: tmpfs's canonical mount point on Linux.
const DefaultDir = "/dev/shm"

// tmpfsMagic and hugetlbfsMagic are the only two filesystem magic numbers
// (as reported by statfs(2)) this package accepts as RAM-backed.
const (
	tmpfsMagic     = 0x01021994
	hugetlbfsMagic = 0x958458f6
)

func validateName(name string) error {
	if len(name) >= NameMax {
		return ErrNameTooLong
	}
	return nil
}

// isPowerOfTwo reports whether n is a power of two. Zero is not.
func isPowerOfTwo(n uint64) bool { return n != 0 && n&(n-1) == 0 }

func validateCapacity(capacity, pageSize uint64) error {
	if capacity < MinCapacity || !isPowerOfTwo(capacity) {
		return ErrInvalidCapacity
	}
	if capacity%pageSize != 0 {
		return ErrInvalidCapacity
	}
	return nil
}

// openDirHandle opens dir as a path-only, close-on-exec, directory-only
// file descriptor. The descriptor is what both NewProducer and the eventual
// unlink-by-handle in Producer.Close operate against.
func openDirHandle(dir string) (int, error) {
	var fd int
	err := retryEINTR(func() (err error) {
		fd, err = unix.Open(dir, unix.O_DIRECTORY|unix.O_PATH|unix.O_CLOEXEC, 0)
		return err
	})
	if err != nil {
		return -1, fmt.Errorf("open directory %s: %w", dir, err)
	}
	return fd, nil
}

// statRAMBackedPageSize stats the filesystem backing dir and returns its
// page size, or ErrNotARAMFS if dir is not tmpfs or hugetlbfs.
func statRAMBackedPageSize(dir string) (uint64, error) {
	var st unix.Statfs_t
	err := retryEINTR(func() error { return unix.Statfs(dir, &st) })
	if err != nil {
		return 0, fmt.Errorf("statfs %s: %w", dir, err)
	}
	switch int64(st.Type) {
	case tmpfsMagic, hugetlbfsMagic:
	default:
		return 0, ErrNotARAMFS
	}
	return uint64(st.Bsize), nil
}

// createUnlinkedFile creates a nameless file inside dirFd using O_TMPFILE.
// The file exists (and can be mmap'd, truncated, written) but has no
// directory entry until publish links one in - this is what keeps a
// consumer from ever observing a half-initialized header.
func createUnlinkedFile(dirFd int, mode uint32) (int, error) {
	var fd int
	err := retryEINTR(func() (err error) {
		fd, err = unix.Openat(dirFd, ".", unix.O_TMPFILE|unix.O_RDWR|unix.O_CLOEXEC, mode)
		return err
	})
	if err != nil {
		return -1, fmt.Errorf("create unlinked file: %w", err)
	}
	return fd, nil
}

// publish links the unlinked file fd into dirFd under name, making it
// visible to anyone who can open that name. This is the one filesystem
// operation that turns a fully-initialized-but-invisible segment into a
// published one; there is no intermediate state a consumer can observe.
func publish(fd, dirFd int, name string) error {
	self := fmt.Sprintf("/proc/self/fd/%d", fd)
	if err := unix.Linkat(unix.AT_FDCWD, self, dirFd, name, unix.AT_SYMLINK_FOLLOW); err != nil {
		return fmt.Errorf("publish %s: %w", name, err)
	}
	return nil
}

// unpublish removes name from dirFd. Processes that already hold mappings
// are unaffected; only the directory entry disappears.
func unpublish(dirFd int, name string) error {
	if err := unix.Unlinkat(dirFd, name, 0); err != nil && err != unix.ENOENT {
		return fmt.Errorf("unpublish %s: %w", name, err)
	}
	return nil
}

// openPublished opens an existing, published segment file read-write
// inside dirFd.
func openPublished(dirFd int, name string) (int, error) {
	var fd int
	err := retryEINTR(func() (err error) {
		fd, err = unix.Openat(dirFd, name, unix.O_RDWR|unix.O_CLOEXEC, 0)
		return err
	})
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// fileSize returns the current size of the open file fd.
func fileSize(fd int) (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return 0, fmt.Errorf("fstat: %w", err)
	}
	return st.Size, nil
}
