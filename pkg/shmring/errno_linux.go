//go:build linux && amd64

package shmring

import "golang.org/x/sys/unix"

// retryEINTR runs op until it returns something other than EINTR. None of
// the syscalls on the hot path (Push/Commit/Pop) go through this; it exists
// only for the setup-time syscalls in NewProducer/NewConsumer that can be
// interrupted by a signal.
func retryEINTR(op func() error) error {
	for {
		err := op()
		if err != unix.EINTR {
			return err
		}
	}
}
