//go:build linux && amd64

package shmring

import (
	"encoding/binary"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// ramDir returns a directory suitable for a RAM-backed segment. /dev/shm is
// always tmpfs on Linux; tests that cannot find it are skipped rather than
// silently falling back to a non-RAM-backed directory, since that would
// defeat the point of the test.
func ramDir(t *testing.T) string {
	t.Helper()
	if _, err := statRAMBackedPageSize(DefaultDir); err != nil {
		t.Skipf("no RAM-backed filesystem at %s: %v", DefaultDir, err)
	}
	return DefaultDir
}

func uniqueName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("shmring-test-%s-%d", t.Name(), time.Now().UnixNano())
}

// newTestRing creates a producer/consumer pair over a fresh ring of the
// given capacity and registers cleanup for both.
func newTestRing(t *testing.T, capacity uint64) (*Producer, *Consumer) {
	t.Helper()
	dir := ramDir(t)
	name := uniqueName(t)

	prod, err := NewProducer(name, capacity, dir, 0600)
	require.NoError(t, err)
	t.Cleanup(func() { prod.Close() })

	cons, err := NewConsumer(name, dir)
	require.NoError(t, err)
	t.Cleanup(func() { cons.Close() })

	return prod, cons
}

func TestTrivialHandshake(t *testing.T) {
	t.Parallel()
	prod, cons := newTestRing(t, 4096)

	buf, err := prod.Push(8)
	require.NoError(t, err)
	binary.LittleEndian.PutUint64(buf, 0x0102030405060708)
	prod.Commit(8)

	got, err := cons.Pop()
	require.NoError(t, err)
	require.Len(t, got, 8)
	require.Equal(t, uint64(0x0102030405060708), binary.LittleEndian.Uint64(got))
	cons.Commit(8)

	require.True(t, prod.Empty())
	require.True(t, cons.Empty())
}

func TestWrapAroundContiguity(t *testing.T) {
	t.Parallel()
	const capacity = 4096
	prod, cons := newTestRing(t, capacity)

	// Drive both indices to 4092 without changing occupancy.
	buf, err := prod.Push(4092)
	require.NoError(t, err)
	require.Len(t, buf, 4092)
	prod.Commit(4092)

	got, err := cons.Pop()
	require.NoError(t, err)
	require.Len(t, got, 4092)
	cons.Commit(4092)

	buf, err = prod.Push(8)
	require.NoError(t, err)
	require.Len(t, buf, 8, "reservation spanning the wrap must still be one contiguous slice")
	binary.LittleEndian.PutUint64(buf, 0xaabbccddeeff0011)
	prod.Commit(8)

	got, err = cons.Pop()
	require.NoError(t, err)
	require.Equal(t, uint64(0xaabbccddeeff0011), binary.LittleEndian.Uint64(got))
	cons.Commit(8)
}

func TestFullCondition(t *testing.T) {
	t.Parallel()
	const capacity = 4096
	prod, _ := newTestRing(t, capacity)

	buf, err := prod.Push(capacity)
	require.NoError(t, err)
	require.Len(t, buf, int(capacity))
	prod.Commit(capacity)

	_, err = prod.Push(1)
	require.ErrorIs(t, err, ErrFull)
}

func TestEmptyThenEOF(t *testing.T) {
	t.Parallel()
	prod, cons := newTestRing(t, 4096)

	_, err := cons.Pop()
	require.ErrorIs(t, err, ErrEmpty)

	require.NoError(t, prod.Close())

	_, err = cons.Pop()
	require.ErrorIs(t, err, io.EOF)
}

func TestDrainBeforeEOF(t *testing.T) {
	t.Parallel()
	prod, cons := newTestRing(t, 4096)

	buf, err := prod.Push(100)
	require.NoError(t, err)
	for i := range buf {
		buf[i] = byte(i)
	}
	prod.Commit(100)
	require.NoError(t, prod.Close())

	got, err := cons.Pop()
	require.NoError(t, err, "bytes committed before teardown must still be visible")
	require.Len(t, got, 100)
	want := make([]byte, 100)
	for i := range want {
		want[i] = byte(i)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("drained bytes differ (-want +got):\n%s", diff)
	}
	cons.Commit(100)

	_, err = cons.Pop()
	require.ErrorIs(t, err, io.EOF)
}

func TestCloseRemovesDirectoryEntry(t *testing.T) {
	t.Parallel()
	dir := ramDir(t)
	name := uniqueName(t)

	prod, err := NewProducer(name, 4096, dir, 0600)
	require.NoError(t, err)
	require.NoError(t, prod.Close())

	_, err = NewConsumer(name, dir)
	require.Error(t, err, "Close must unlink the ring's directory entry")
}

func TestCapacityValidation(t *testing.T) {
	t.Parallel()
	dir := ramDir(t)
	pageSize, err := statRAMBackedPageSize(dir)
	require.NoError(t, err)

	bad := []uint64{0, 3, 1023, 1025}
	for _, capacity := range bad {
		capacity := capacity
		t.Run(fmt.Sprintf("capacity=%d", capacity), func(t *testing.T) {
			t.Parallel()
			_, err := NewProducer(uniqueName(t), capacity, dir, 0600)
			require.ErrorIs(t, err, ErrInvalidCapacity)
		})
	}

	good := []uint64{pageSize, pageSize * 2, pageSize * 16}
	for _, capacity := range good {
		capacity := capacity
		t.Run(fmt.Sprintf("capacity=%d", capacity), func(t *testing.T) {
			t.Parallel()
			if !isPowerOfTwo(capacity) {
				t.Skip("page size itself is not a power of two on this host")
			}
			prod, err := NewProducer(uniqueName(t), capacity, dir, 0600)
			require.NoError(t, err)
			require.NoError(t, prod.Close())
		})
	}
}

func TestNameValidation(t *testing.T) {
	t.Parallel()
	dir := ramDir(t)

	tooLong := make([]byte, NameMax)
	for i := range tooLong {
		tooLong[i] = 'a'
	}
	_, err := NewProducer(string(tooLong), 4096, dir, 0600)
	require.ErrorIs(t, err, ErrNameTooLong)

	okName := make([]byte, NameMax-1)
	for i := range okName {
		okName[i] = 'a'
	}
	prod, err := NewProducer(string(okName), 4096, dir, 0600)
	require.NoError(t, err)
	require.NoError(t, prod.Close())
}

func TestHeadTailInvariantUnderConcurrentTraffic(t *testing.T) {
	const capacity = 1 << 16
	const total = 200_000
	dir := ramDir(t)
	name := uniqueName(t)

	prod, err := NewProducer(name, capacity, dir, 0600)
	require.NoError(t, err)
	cons, err := NewConsumer(name, dir)
	require.NoError(t, err)

	producerErr := make(chan error, 1)

	go func() {
		for seq := uint64(0); seq < total; {
			buf, err := prod.Push(8)
			if err == ErrFull {
				continue
			}
			if err != nil {
				producerErr <- err
				return
			}
			binary.LittleEndian.PutUint64(buf, seq)
			prod.Commit(8)
			seq++
		}
		producerErr <- prod.Close()
	}()

	seen := make([]uint64, 0, total)
	for uint64(len(seen)) < total {
		buf, err := cons.Pop()
		if err == ErrEmpty {
			continue
		}
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.LessOrEqual(t, uint64(len(buf)), uint64(capacity), "head - tail must never exceed capacity")
		consumed := uint64(len(buf))
		for len(buf) >= 8 {
			seen = append(seen, binary.LittleEndian.Uint64(buf[:8]))
			buf = buf[8:]
		}
		cons.Commit(consumed)
	}
	require.NoError(t, <-producerErr)
	require.NoError(t, cons.Close())

	require.Len(t, seen, total)
	for i, v := range seen {
		require.Equal(t, uint64(i), v, "sequence must arrive with no gaps or duplicates")
	}
}
