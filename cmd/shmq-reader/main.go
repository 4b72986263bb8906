// Command shmq-reader is a demo consumer for a shmqueue channel: it
// opens the reader end of a named channel and prints each message as
// it arrives, blocking on wait_has_messages between reads.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/orizon-lang/shmqueue/internal/channel"
	"github.com/orizon-lang/shmqueue/internal/cli"
	"github.com/orizon-lang/shmqueue/internal/config"
	"github.com/orizon-lang/shmqueue/internal/plat"
	"github.com/orizon-lang/shmqueue/internal/status"
)

func main() {
	var (
		name        = flag.StringP("name", "n", "", "channel name")
		global      = flag.Bool("global", false, "use global (not local) scope")
		descriptor  = flag.StringP("config", "f", "", "load name/scope from a .hujson descriptor")
		waitTimeout = flag.Duration("wait-timeout", 0, "timeout per wait_has_messages (0 = wait forever)")
		showVersion = flag.Bool("version", false, "print version and exit")
		jsonOutput  = flag.Bool("json", false, "print version as JSON")
	)

	flag.Parse()

	if *showVersion {
		cli.PrintVersion("shmq-reader", *jsonOutput)
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
		scope = c.Scope
	}

	if *name == "" {
		cli.ExitWithError("--name is required (or --config)")
	}

	logger := log.New(os.Stderr, "shmq-reader: ", log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, st, err := channel.OpenInbound(ctx, *name, scope)
	if err != nil {
		cli.ExitWithError("open channel %q: %v", *name, err)
	}

	if st != status.Completed {
		cli.ExitWithError("open channel %q: %v", *name, st)
	}

	sess.Logger = logger
	defer sess.Close()

	logger.Printf("channel %q opened, reading messages", *name)

	for {
		if err := readLoop(ctx, sess, *waitTimeout); err != nil {
			if ctx.Err() != nil {
				return
			}

			cli.ExitWithError("read: %v", err)
		}
	}
}

func readLoop(ctx context.Context, sess *channel.ChannelSession, waitTimeout time.Duration) error {
	waitCtx := ctx

	if waitTimeout > 0 {
		var cancel context.CancelFunc

		waitCtx, cancel = context.WithTimeout(ctx, waitTimeout)
		defer cancel()
	}

	waitStatus, err := sess.WaitHasMessages(waitCtx)
	if err != nil {
		return err
	}

	if waitStatus != status.Completed {
		return nil
	}

	var payload []byte

	_, st, err := sess.Read(ctx, func(window []byte) status.Status {
		payload = append([]byte(nil), window...)
		return status.Completed
	})
	if err != nil {
		return err
	}

	switch st {
	case status.Completed:
		fmt.Printf("%s\n", payload)
	case status.QueueIsEmpty:
	default:
		return st
	}

	return nil
}
