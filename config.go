package domainfilter

import (
	"cmp"
	"os"
	"slices"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	// PolicyAccept lets unmatched traffic through.
	PolicyAccept = "accept"
	// PolicyDrop drops unmatched traffic.
	PolicyDrop = "drop"

	defaultChainName = "OUTPUT"
	defaultCacheSize = 4096
)

// SetConfigName set the config name that domainfilter will look for.
func SetConfigName(v *viper.Viper, name string) {
	v.SetConfigName(name)

	configPath := "$HOME"
	// viper has its own way to get user home directory:  https://github.com/spf13/viper/blob/v1.14.0/util.go#L134
	// To be consistent, we prefer os.UserHomeDir instead.
	if homeDir, err := os.UserHomeDir(); err == nil {
		configPath = homeDir
	}
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
}

// InitConfig initializes default config values for given *viper.Viper instance.
func InitConfig(v *viper.Viper, name string) {
	SetConfigName(v, name)

	v.SetDefault("service", map[string]any{
		"log_level":          "",
		"conn_table_size":    defaultCacheSize,
		"verdict_cache_size": defaultCacheSize,
	})
	v.SetDefault("chain", map[string]any{
		"name":           defaultChainName,
		"default_policy": PolicyAccept,
	})
}

// Config represents domainfilter supported configuration.
type Config struct {
	Service ServiceConfig            `mapstructure:"service" toml:"service,omitempty"`
	Chain   ChainConfig              `mapstructure:"chain" toml:"chain"`
	Filter  map[string]*FilterConfig `mapstructure:"filter" toml:"filter,omitempty" validate:"dive,keys,filterkey,endkeys,required"`
}

// ServiceConfig specifies the general domainfilter config.
type ServiceConfig struct {
	LogLevel         string `mapstructure:"log_level" toml:"log_level,omitempty"`
	LogPath          string `mapstructure:"log_path" toml:"log_path,omitempty"`
	MetricsListener  string `mapstructure:"metrics_listener" toml:"metrics_listener,omitempty" validate:"omitempty,hostname_port"`
	ControlSocket    string `mapstructure:"control_socket" toml:"control_socket,omitempty"`
	ConnTableSize    int    `mapstructure:"conn_table_size" toml:"conn_table_size,omitempty" validate:"gte=0"`
	VerdictCacheSize int    `mapstructure:"verdict_cache_size" toml:"verdict_cache_size,omitempty" validate:"gte=0"`
}

// ChainConfig specifies how filters are evaluated.
type ChainConfig struct {
	Name          string `mapstructure:"name" toml:"name,omitempty"`
	DefaultPolicy string `mapstructure:"default_policy" toml:"default_policy" validate:"oneof=accept drop"`
}

// FilterConfig specifies a domain filtering rule.
// Exactly one of Allow or Deny must be set.
type FilterConfig struct {
	Name   string `mapstructure:"name" toml:"name,omitempty"`
	Domain string `mapstructure:"domain" toml:"domain" validate:"domainpattern"`
	Allow  bool   `mapstructure:"allow" toml:"allow,omitempty"`
	Deny   bool   `mapstructure:"deny" toml:"deny,omitempty"`
}

// Rule validates the filter, returning the rule it describes.
func (fc *FilterConfig) Rule() (*Rule, error) {
	return NewRule(fc.Domain, ModeFlagsOf(fc.Allow, fc.Deny))
}

// FilterKeys returns the keys of configured filters in evaluation order,
// that is "0", "1", ..., "10" numerically. Keys of the same number, like
// "1" and "01", are ordered by their text so the order is stable.
func (c *Config) FilterKeys() []string {
	keys := make([]string, 0, len(c.Filter))
	for k := range c.Filter {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		na, errA := strconv.Atoi(a)
		nb, errB := strconv.Atoi(b)
		switch {
		case errA == nil && errB == nil && na != nb:
			return cmp.Compare(na, nb)
		case errA == nil && errB != nil:
			return -1
		case errA != nil && errB == nil:
			return 1
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})
	return keys
}

// ValidateConfig validates the given config.
func ValidateConfig(validate *validator.Validate, cfg *Config) error {
	_ = validate.RegisterValidation("domainpattern", validateDomainPattern)
	_ = validate.RegisterValidation("filterkey", validateFilterKey)
	validate.RegisterStructValidation(validateFilterMode, FilterConfig{})
	return validate.Struct(cfg)
}

func validateDomainPattern(fl validator.FieldLevel) bool {
	return validatePattern(fl.Field().String()) == nil
}

// validateFilterKey accepts only canonical non-negative numbers,
// so "01", "+1" or "-1" are rejected.
func validateFilterKey(fl validator.FieldLevel) bool {
	k := fl.Field().String()
	n, err := strconv.Atoi(k)
	return err == nil && n >= 0 && strconv.Itoa(n) == k
}

func validateFilterMode(sl validator.StructLevel) {
	fc := sl.Current().Interface().(FilterConfig)
	if _, ok := ModeFlagsOf(fc.Allow, fc.Deny).mode(); !ok {
		sl.ReportError(fc.Allow, "Allow", "allow", "filtermode", "")
	}
}
