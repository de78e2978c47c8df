//go:build !windows

package cli

import (
	"os"
	"os/signal"
	"syscall"
)

// notifyReloadSigCh relays SIGUSR1 to ch, the signal used to reload the filters.
func notifyReloadSigCh(ch chan os.Signal) {
	signal.Notify(ch, syscall.SIGUSR1)
}
