package cli

import (
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Control-D-Inc/domainfilter"
)

var logOutput strings.Builder

func TestMain(m *testing.M) {
	l := zerolog.New(&logOutput)
	mainLog.Store(&l)
	domainfilter.InitConfig(v, "domainfilter")
	initCLI()
	os.Exit(m.Run())
}
