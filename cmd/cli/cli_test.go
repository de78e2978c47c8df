package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Control-D-Inc/domainfilter"
	"github.com/Control-D-Inc/domainfilter/testhelper"
)

func Test_writeConfigFile(t *testing.T) {
	tmpdir := t.TempDir()
	// simulate --config CLI flag by setting configPath manually.
	configPath = filepath.Join(tmpdir, "domainfilter.toml")
	t.Cleanup(func() { configPath = "" })
	_, err := os.Stat(configPath)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, writeConfigFile())

	_, err = os.Stat(configPath)
	require.NoError(t, err)
}

func Test_readBase64Config(t *testing.T) {
	assert.NoError(t, readBase64Config(""))
	assert.Error(t, readBase64Config("not base64!"))
}

func Test_fieldErrorMsg(t *testing.T) {
	cfg := testhelper.SampleConfig(t)
	cfg.Chain.DefaultPolicy = "reject"
	cfg.Service.MetricsListener = "invalid"
	cfg.Filter["1"].Domain = ""
	cfg.Filter["2"].Allow = true
	cfg.Filter["01"] = &domainfilter.FilterConfig{Domain: "a", Deny: true}

	err := domainfilter.ValidateConfig(validator.New(), cfg)
	require.Error(t, err)
	var ve validator.ValidationErrors
	require.ErrorAs(t, err, &ve)

	msgs := make(map[string]string)
	for _, fe := range ve {
		msgs[fe.Tag()] = fieldErrorMsg(fe)
	}
	assert.Equal(t, `must be one of: "accept drop"`, msgs["oneof"])
	assert.Equal(t, "invalid listener address: invalid", msgs["hostname_port"])
	assert.Equal(t, "domain pattern is required", msgs["domainpattern"])
	assert.Equal(t, "exactly one of allow or deny must be set", msgs["filtermode"])
	assert.Equal(t, "filter key must be a non-negative number without leading zeros: 01", msgs["filterkey"])
}

func Test_validateConfig(t *testing.T) {
	cfg := testhelper.SampleConfig(t)
	assert.NoError(t, validateConfig(cfg))

	cfg.Chain.DefaultPolicy = ""
	assert.Error(t, validateConfig(cfg))
}
