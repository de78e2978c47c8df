package testhelper

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/Control-D-Inc/domainfilter"
)

func SampleConfig(t *testing.T) *domainfilter.Config {
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	domainfilter.InitConfig(v, "test_load_config")
	v.SetConfigType("toml")
	require.NoError(t, v.ReadConfig(strings.NewReader(sampleConfigContent)))
	var cfg domainfilter.Config
	require.NoError(t, v.Unmarshal(&cfg))
	return &cfg
}

var sampleConfigContent = `
[service]
log_level = "info"
log_path = "/path/to/log.log"
metrics_listener = "127.0.0.1:9153"

[chain]
name = "OUTPUT"
default_policy = "accept"

[filter.0]
name = "corp"
domain = "%.corp.example"
allow = true

[filter.1]
name = "ads"
domain = "%ads.%"
deny = true

[filter.2]
name = "tracker"
domain = "tracker.%"
deny = true

[filter.10]
name = "exact"
domain = "evil.example.com"
deny = true
`
