// Command shmq-writer is a demo producer for a shmqueue channel: it
// creates a named channel as its writer end (it has no mode that opens
// an existing channel) and writes one message per typed line, either
// from an interactive line-editing prompt or from stdin when piped.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/peterh/liner"

	"github.com/orizon-lang/shmqueue/internal/channel"
	"github.com/orizon-lang/shmqueue/internal/cli"
	"github.com/orizon-lang/shmqueue/internal/config"
	"github.com/orizon-lang/shmqueue/internal/plat"
	"github.com/orizon-lang/shmqueue/internal/status"
)

const defaultCapacity = 1 << 30 // spec.md §6's suggested default capacity

func main() {
	var (
		name        = flag.StringP("name", "n", "", "channel name")
		capacity    = flag.Int64P("capacity", "c", defaultCapacity, "region capacity in bytes")
		global      = flag.Bool("global", false, "use global (not local) scope")
		descriptor  = flag.StringP("config", "f", "", "load name/capacity/scope from a .hujson descriptor")
		timeout     = flag.Duration("timeout", 10*time.Second, "timeout for each write")
		historyFile = flag.String("history", "", "liner history file (interactive mode only)")
		showVersion = flag.Bool("version", false, "print version and exit")
		jsonOutput  = flag.Bool("json", false, "print version as JSON")
	)

	flag.Parse()

	if *showVersion {
		cli.PrintVersion("shmq-writer", *jsonOutput)
		return
	}

	scope := plat.ScopeLocal
	if *global {
		scope = plat.ScopeGlobal
	}

	if *descriptor != "" {
		c, err := config.Load(*descriptor)
		if err != nil {
			cli.ExitWithError("loading descriptor: %v", err)
		}

		*name = c.Name
		*capacity = c.Capacity
		scope = c.Scope
	}

	if *name == "" {
		cli.ExitWithError("--name is required (or --config)")
	}

	logger := log.New(os.Stderr, "shmq-writer: ", log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, st, err := channel.CreateOutbound(ctx, *name, *capacity, scope)
	if err != nil {
		cli.ExitWithError("create channel %q: %v", *name, err)
	}

	if st != status.Completed {
		cli.ExitWithError("create channel %q: %v", *name, st)
	}

	sess.Logger = logger
	defer sess.Close()

	logger.Printf("channel %q ready, waiting for a reader", *name)

	if isTerminal(os.Stdin) {
		runInteractive(ctx, sess, *timeout, *historyFile)
	} else {
		runPiped(ctx, sess, *timeout, os.Stdin)
	}
}

func writeLine(ctx context.Context, sess *channel.ChannelSession, timeout time.Duration, line string) error {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload := []byte(line)

	_, st, err := sess.Write(wctx, int64(len(payload)), func(window []byte) status.Status {
		copy(window, payload)
		return status.Completed
	})
	if err != nil {
		return err
	}

	if st != status.Completed {
		return st
	}

	return nil
}

func runPiped(ctx context.Context, sess *channel.ChannelSession, timeout time.Duration, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := writeLine(ctx, sess, timeout, scanner.Text()); err != nil {
			cli.ExitWithError("write: %v", err)
		}
	}
}

func runInteractive(ctx context.Context, sess *channel.ChannelSession, timeout time.Duration, historyFile string) {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)

	if historyFile != "" {
		if f, err := os.Open(historyFile); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}

	fmt.Println("Type a message and press Enter to write it. Ctrl-D to quit.")

	for {
		text, err := line.Prompt("shmq-writer> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				break
			}

			cli.ExitWithError("prompt: %v", err)
		}

		line.AppendHistory(text)

		if err := writeLine(ctx, sess, timeout, text); err != nil {
			fmt.Fprintf(os.Stderr, "write failed: %v\n", err)
			continue
		}
	}

	if historyFile != "" {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}

	return info.Mode()&os.ModeCharDevice != 0
}
