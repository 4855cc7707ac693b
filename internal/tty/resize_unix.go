//go:build unix

package tty

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// WatchResize calls fn every time the terminal window changes size, until
// ctx is done.
func WatchResize(ctx context.Context, fn func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGWINCH)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				fn()
			}
		}
	}()
}
