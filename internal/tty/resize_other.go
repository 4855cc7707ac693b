//go:build !unix

package tty

import "context"

// WatchResize is a no-op where the platform has no window-change signal.
func WatchResize(ctx context.Context, fn func()) {}
