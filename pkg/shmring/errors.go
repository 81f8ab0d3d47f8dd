package shmring

import "errors"

// Configuration errors, surfaced by NewProducer/NewConsumer. Fatal for the endpoint that
// receives them; the caller is expected to give up rather than retry.
var (
	// ErrNameTooLong is returned when a ring name is NameMax bytes or longer.
	ErrNameTooLong = errors.New("shmring: name too long")

	// ErrInvalidCapacity is returned when capacity is not a power of two,
	// is smaller than MinCapacity, or is not a multiple of the backing
	// filesystem's page size.
	ErrInvalidCapacity = errors.New("shmring: invalid capacity")

	// ErrNotARAMFS is returned when the directory is not backed by tmpfs
	// or hugetlbfs.
	ErrNotARAMFS = errors.New("shmring: directory is not on a RAM-backed filesystem")

	// ErrUnsupportedVersion is returned by NewConsumer when the segment's header
	// version does not match Version.
	ErrUnsupportedVersion = errors.New("shmring: unsupported header version")

	// ErrTimeout is returned by NewConsumerTimeout when the ring never appeared
	// in the directory within the requested deadline.
	ErrTimeout = errors.New("shmring: timed out waiting for ring to appear")
)

// Transient flow-control conditions. Expected in steady state; callers
// retry or back off rather than treat these as failures.
var (
	// ErrFull is returned by Producer.Push when the reservation does not
	// fit in the free space the consumer has made available.
	ErrFull = errors.New("shmring: ring full")

	// ErrEmpty is returned by Consumer.Pop when no committed bytes are
	// available and the producer has not signalled EOF.
	ErrEmpty = errors.New("shmring: ring empty")
)

// ErrClosed names the state of an endpoint whose Close method has run. No
// method of Producer or Consumer returns it: Close returns nil when called
// again, and Push, Commit and Pop do not check whether Close has run.
var ErrClosed = errors.New("shmring: endpoint closed")
