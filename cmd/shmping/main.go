// Command shmping transfers a sequence of 8-byte integers from a pinned
// producer goroutine to a pinned consumer goroutine through a ring, and
// reports throughput. It exercises the core's hot path the way a real
// producer/consumer pair would, without the overhead of two processes.
package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/NewbiZ/ezqueue/internal/config"
	"github.com/NewbiZ/ezqueue/pkg/shmring"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flagSet := flag.NewFlagSet("shmping", flag.ContinueOnError)
	flagSet.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: shmping [options]")
		flagSet.PrintDefaults()
	}

	count := flagSet.Uint64("count", 10_000_000, "number of 8-byte integers to transfer")
	capacity := flagSet.Uint64("capacity", 1<<20, "ring capacity in bytes")
	dir := flagSet.String("dir", "", "RAM-backed directory (default: "+shmring.DefaultDir+")")
	name := flagSet.String("name", config.Default().Name, "ring name")
	cpuProducer := flagSet.Int("cpu-producer", 0, "CPU to pin the producer to")
	cpuConsumer := flagSet.Int("cpu-consumer", 1, "CPU to pin the consumer to")
	configPath := flagSet.String("config", "", "optional JSONC config file")

	if err := flagSet.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Println("error:", err)
		return 1
	}
	cfg = cfg.ApplyFlags(*name, *capacity, *dir, flagSet.Changed)

	prod, err := shmring.NewProducer(cfg.Name, cfg.Capacity, cfg.Dir, 0600)
	if err != nil {
		log.Println("error: create ring:", err)
		return 1
	}

	cons, err := shmring.NewConsumer(cfg.Name, cfg.Dir)
	if err != nil {
		log.Println("error: open ring:", err)
		prod.Close()
		return 1
	}

	errs := make(chan error, 1)
	go produceSequence(prod, *count, *cpuProducer, errs)

	start := time.Now()
	gapErr := consumeSequence(cons, *count, *cpuConsumer)
	elapsed := time.Since(start)

	if err := <-errs; err != nil {
		log.Println("error: producer:", err)
		return 1
	}
	if gapErr != nil {
		log.Println("error:", gapErr)
		return 1
	}

	opsPerSec := float64(*count) / elapsed.Seconds()
	log.Printf("transferred %d integers in %s (%.0f ops/s, %.1f ns/op)",
		*count, elapsed, opsPerSec, float64(elapsed.Nanoseconds())/float64(*count))
	return 0
}

func produceSequence(prod *shmring.Producer, count uint64, cpu int, errs chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := shmring.PinCurrentThread(cpu); err != nil {
		errs <- err
		return
	}

	for seq := uint64(0); seq < count; {
		buf, err := prod.Push(8)
		if err == shmring.ErrFull {
			continue
		}
		if err != nil {
			errs <- err
			return
		}
		binary.LittleEndian.PutUint64(buf, seq)
		prod.Commit(8)
		seq++
	}
	errs <- prod.Close()
}

func consumeSequence(cons *shmring.Consumer, count uint64, cpu int) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := shmring.PinCurrentThread(cpu); err != nil {
		return err
	}
	defer cons.Close()

	var want uint64
	for want < count {
		buf, err := cons.Pop()
		if err == shmring.ErrEmpty {
			continue
		}
		if err == io.EOF {
			return fmt.Errorf("producer closed early at %d/%d integers", want, count)
		}
		if err != nil {
			return err
		}
		consumed := uint64(len(buf))
		for len(buf) >= 8 {
			got := binary.LittleEndian.Uint64(buf[:8])
			if got != want {
				return fmt.Errorf("sequence gap: want %d, got %d", want, got)
			}
			buf = buf[8:]
			want++
		}
		cons.Commit(consumed)
	}
	return nil
}
