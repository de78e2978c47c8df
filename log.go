package domainfilter

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"
)

func init() {
	l := zerolog.New(io.Discard)
	ProxyLogger.Store(&l)
}

// ProxyLogger emits the log record for filtering operations.
var ProxyLogger atomic.Pointer[zerolog.Logger]

// ConnIDCtxKey is the context.Context key for a connection id.
type ConnIDCtxKey struct{}

// Log emits the logs for a particular zerolog event.
// The connection id associated with the context will be included if presents.
func Log(ctx context.Context, e *zerolog.Event, format string, v ...any) {
	id, ok := ctx.Value(ConnIDCtxKey{}).(string)
	if !ok {
		e.Msgf(format, v...)
		return
	}
	e.MsgFunc(func() string {
		return fmt.Sprintf("[%s] %s", id, fmt.Sprintf(format, v...))
	})
}
