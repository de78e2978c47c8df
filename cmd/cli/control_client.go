package cli

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/Control-D-Inc/domainfilter"
)

type controlClient struct {
	c *http.Client
}

func newControlClient(addr string) *controlClient {
	return &controlClient{c: &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				d := net.Dialer{}
				return d.DialContext(ctx, "unix", addr)
			},
		},
		Timeout: time.Second * 30,
	}}
}

func (c *controlClient) post(path string, data io.Reader) (*http.Response, error) {
	return c.c.Post("http://unix"+path, contentTypeJson, data)
}

func (c *controlClient) get(path string) (*http.Response, error) {
	return c.c.Get("http://unix" + path)
}

// clientControlSocketPath resolves the control socket of the running service
// for commands which only talk to it. The config is read if present, but not
// validated, a missing or broken one falls back to the default socket.
func clientControlSocketPath() string {
	if controlSocket != "" {
		return controlSocket
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	readConfigFile(false)
	if err := readBase64Config(configBase64); err != nil {
		mainLog.Load().Warn().Err(err).Msg("could not read base64 config")
	}
	var c domainfilter.Config
	if err := v.Unmarshal(&c); err != nil {
		mainLog.Load().Warn().Err(err).Msg("could not unmarshal config")
	}
	return controlSocketPath(&c)
}
