// Package shmring implements a bounded, lock-free, single-producer/
// single-consumer byte queue for inter-process communication on Linux/x86_64.
//
// The queue lives in a file-backed shared memory segment on a RAM-backed
// filesystem (tmpfs, or hugetlbfs at 2 MiB/1 GiB page sizes). One process
// creates the segment and drives the Producer side; a second process opens
// the segment by name and drives the Consumer side. Both sides exchange
// bytes at main-memory bandwidth through two free-rolling 64-bit indices and
// a reserve/commit API that avoids copying on either side.
//
// The data region is mapped twice, back to back, into each process's
// address space ("double mapping"). That trick is what lets Push and Pop
// always hand back one contiguous []byte even when the logical range wraps
// past the end of the ring - see reserveDoubleMapping in mmap_linux.go.
//
// There is exactly one producer and one consumer; the package does not
// support fan-out, blocking waits (consumers are expected to spin or back
// off on their own), or message framing. Framing, if any, is the caller's
// concern.
package shmring
