package cli

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Control-D-Inc/domainfilter"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	v                 = viper.NewWithOptions(viper.KeyDelimiter("::"))
	defaultConfigFile = "domainfilter.toml"
)

const rootShortDesc = `domain name based traffic filtering`

var rootCmd = &cobra.Command{
	Use:     "domainfilter",
	Short:   rootShortDesc,
	Version: curVersion(),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initConsoleLogging()
	},
}

func curVersion() string {
	if version != "dev" && !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("%s-%s", version, commit)
}

func initCLI() {
	// Enable opening via explorer.exe on Windows.
	// See: https://github.com/spf13/cobra/issues/844.
	cobra.MousetrapHelpText = ""
	cobra.EnableCommandSorting = false

	rootCmd.PersistentFlags().CountVarP(
		&verbose,
		"verbose",
		"v",
		`verbose log output, "-v" basic logging, "-vv" debug level logging`,
	)
	rootCmd.PersistentFlags().BoolVarP(
		&silent,
		"silent",
		"s",
		false,
		`do not write any log output`,
	)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringVarP(&configBase64, "base64_config", "", "", "Base64 encoded config")
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	InitRunCmd()
	InitCheckCmd()
	InitRulesCmd()
	InitConnCmd()

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), rootCmd.Use, curVersion())
		},
	})
}

// loadConfig reads, unmarshals and validates the config into cfg.
func loadConfig(cmd *cobra.Command, writeDefaultConfig bool) error {
	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	readConfigFile(writeDefaultConfig && configBase64 == "")
	if err := readBase64Config(configBase64); err != nil {
		return err
	}
	processCLIFlags(cmd)
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return validateConfig(&cfg)
}

// processCLIFlags overrides config values by flags set explicitly on command line.
func processCLIFlags(cmd *cobra.Command) {
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case "log":
			v.Set("service::log_path", logPath)
		case "metrics_listener":
			v.Set("service::metrics_listener", metricsListen)
		case "control_socket":
			v.Set("service::control_socket", controlSocket)
		default:
			return
		}
		mainLog.Load().Debug().Msgf("config overridden by flag --%s=%s", flag.Name, flag.Value)
	})
}

func writeConfigFile() error {
	if cfu := v.ConfigFileUsed(); cfu != "" {
		defaultConfigFile = cfu
	} else if configPath != "" {
		defaultConfigFile = configPath
	}
	f, err := os.OpenFile(defaultConfigFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(0o644))
	if err != nil {
		return err
	}
	defer f.Close()
	enc := toml.NewEncoder(f).SetIndentTables(true)
	if err := enc.Encode(&cfg); err != nil {
		return err
	}
	return f.Close()
}

// readConfigFile reads in config file.
//
// It writes default config file if config file not found if writeDefaultConfig is true.
func readConfigFile(writeDefaultConfig bool) bool {
	// If err == nil, there's a config supplied via `--config`, no default config written.
	err := v.ReadInConfig()
	if err == nil {
		mainLog.Load().Info().Msg("loading config file from: " + v.ConfigFileUsed())
		defaultConfigFile = v.ConfigFileUsed()
		return true
	}

	// If error is viper.ConfigFileNotFoundError, write default config.
	if errors.As(err, &viper.ConfigFileNotFoundError{}) {
		if !writeDefaultConfig {
			return false
		}
		if err := v.Unmarshal(&cfg); err != nil {
			mainLog.Load().Fatal().Msgf("failed to unmarshal default config: %v", err)
		}
		if err := writeConfigFile(); err != nil {
			mainLog.Load().Fatal().Msgf("failed to write default config file: %v", err)
		}
		fp, err := filepath.Abs(defaultConfigFile)
		if err != nil {
			mainLog.Load().Fatal().Msgf("failed to get default config file path: %v", err)
		}
		mainLog.Load().Notice().Msg("Generating default config: " + fp)
		return false
	}

	// If error is viper.ConfigParseError, emit details line and column number.
	if errors.As(err, &viper.ConfigParseError{}) {
		if de := decoderErrorFromTomlFile(v.ConfigFileUsed()); de != nil {
			row, col := de.Position()
			mainLog.Load().Fatal().Msgf("failed to decode config file at line: %d, column: %d, error: %v", row, col, err)
		}
	}

	// Otherwise, report fatal error and exit.
	mainLog.Load().Fatal().Msgf("failed to decode config file: %v", err)
	return false
}

// decoderErrorFromTomlFile parses the invalid toml file, returning the details decoder error.
func decoderErrorFromTomlFile(cf string) *toml.DecodeError {
	if f, _ := os.Open(cf); f != nil {
		defer f.Close()
		var i any
		var de *toml.DecodeError
		if err := toml.NewDecoder(f).Decode(&i); err != nil && errors.As(err, &de) {
			return de
		}
	}
	return nil
}

// readBase64Config reads domainfilter config from the base64 input string.
func readBase64Config(configBase64 string) error {
	if configBase64 == "" {
		return nil
	}
	configStr, err := base64.StdEncoding.DecodeString(configBase64)
	if err != nil {
		return fmt.Errorf("invalid base64 config: %w", err)
	}
	v.SetConfigType("toml")
	return v.ReadConfig(bytes.NewReader(configStr))
}

func validateConfig(cfg *domainfilter.Config) error {
	if err := domainfilter.ValidateConfig(validator.New(), cfg); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			for _, fe := range ve {
				mainLog.Load().Error().Msgf("invalid config: %s: %s", fe.Namespace(), fieldErrorMsg(fe))
			}
		}
		return err
	}
	return nil
}

// NOTE: Add more case here once new validation tag is used in domainfilter.Config struct.
func fieldErrorMsg(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("must be one of: %q", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to: %s", fe.Param())
	case "hostname_port":
		return fmt.Sprintf("invalid listener address: %v", fe.Value())
	case "filterkey":
		return fmt.Sprintf("filter key must be a non-negative number without leading zeros: %v", fe.Value())
	case "required":
		return "value is required"
	case "domainpattern":
		if s, ok := fe.Value().(string); ok && s == "" {
			return "domain pattern is required"
		}
		return fmt.Sprintf("domain pattern must be less than %d bytes", domainfilter.MaxPatternLen)
	case "filtermode":
		return "exactly one of allow or deny must be set"
	}
	if fe.Kind() == reflect.Map || fe.Kind() == reflect.Slice {
		return fmt.Sprintf("invalid elements: %v", fe.Value())
	}
	return ""
}

func userHomeDir() (string, error) {
	if homedir != "" {
		return homedir, nil
	}
	// viper will expand for us.
	if runtime.GOOS == "windows" {
		// If we're on windows, use the install path for this.
		exePath, err := os.Executable()
		if err != nil {
			return "", err
		}
		return filepath.Dir(exePath), nil
	}
	dir := "/etc/domainfilter"
	if err := os.MkdirAll(dir, 0750); err != nil {
		return os.UserHomeDir()
	}
	return dir, nil
}
