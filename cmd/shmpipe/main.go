// Command shmpipe moves a file through a ring between two independent
// processes: one run with --mode=send, the other with --mode=recv. It
// exercises the package's create/open lifecycle and the Producer/Consumer
// reserve-commit API against a real file instead of synthetic integers.
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/NewbiZ/ezqueue/internal/config"
	"github.com/NewbiZ/ezqueue/pkg/shmring"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flagSet := flag.NewFlagSet("shmpipe", flag.ContinueOnError)
	flagSet.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: shmpipe --mode=send|recv [options]")
		flagSet.PrintDefaults()
	}

	mode := flagSet.String("mode", "", "send or recv")
	file := flagSet.String("file", "", "file to send, or to write on the recv side (stdout if empty)")
	capacity := flagSet.Uint64("capacity", config.Default().Capacity, "ring capacity in bytes")
	dir := flagSet.String("dir", "", "RAM-backed directory (default: "+shmring.DefaultDir+")")
	name := flagSet.String("name", config.Default().Name, "ring name")
	timeout := flagSet.Duration("timeout", 30*time.Second, "recv: how long to wait for the sender to publish the ring")
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

	switch *mode {
	case "send":
		return send(cfg, *file)
	case "recv":
		return recv(cfg, *file, *timeout)
	default:
		flagSet.Usage()
		return 1
	}
}

func send(cfg config.Ring, file string) int {
	var src io.Reader = os.Stdin
	if file != "" {
		f, err := os.Open(file) //nolint:gosec // operator-supplied path
		if err != nil {
			log.Println("error:", err)
			return 1
		}
		defer f.Close()
		src = f
	}

	prod, err := shmring.NewProducer(cfg.Name, cfg.Capacity, cfg.Dir, 0600)
	if err != nil {
		log.Println("error: create ring:", err)
		return 1
	}
	defer prod.Close()

	start := time.Now()
	var total uint64
	for {
		buf, err := prod.Push(cfg.Capacity)
		if err == shmring.ErrFull {
			continue
		}
		if err != nil {
			log.Println("error:", err)
			return 1
		}
		n, readErr := src.Read(buf)
		prod.Commit(uint64(n))
		total += uint64(n)
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			log.Println("error: read:", readErr)
			return 1
		}
	}

	log.Printf("sent %d bytes in %s", total, time.Since(start))
	return 0
}

func recv(cfg config.Ring, file string, timeout time.Duration) int {
	var dst io.Writer = os.Stdout
	if file != "" {
		f, err := os.Create(file) //nolint:gosec // operator-supplied path
		if err != nil {
			log.Println("error:", err)
			return 1
		}
		defer f.Close()
		dst = f
	}

	cons, err := shmring.NewConsumerTimeout(cfg.Name, cfg.Dir, timeout)
	if err != nil {
		log.Println("error: open ring:", err)
		return 1
	}
	defer cons.Close()

	start := time.Now()
	var total uint64
	for {
		buf, err := cons.Pop()
		if err == shmring.ErrEmpty {
			continue
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Println("error:", err)
			return 1
		}
		n, writeErr := dst.Write(buf)
		cons.Commit(uint64(n))
		total += uint64(n)
		if writeErr != nil {
			log.Println("error: write:", writeErr)
			return 1
		}
	}

	log.Printf("received %d bytes in %s", total, time.Since(start))
	return 0
}
