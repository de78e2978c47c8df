package cli

import "os"

// notifyReloadSigCh is a no-op, on Windows reload is done via the control server.
func notifyReloadSigCh(ch chan os.Signal) {}
