package cli

import (
	"github.com/spf13/cobra"
)

// RunCommand handles run-related operations
type RunCommand struct{}

// NewRunCommand creates a new run command handler
func NewRunCommand() *RunCommand {
	return &RunCommand{}
}

// Run loads the config and runs the filtering service until it is stopped.
func (rc *RunCommand) Run(cmd *cobra.Command, args []string) {
	if err := loadConfig(cmd, true); err != nil {
		mainLog.Load().Fatal().Err(err).Msg("invalid config")
	}
	initLogging()

	p := &prog{cfg: &cfg}
	s, err := newService(p, svcConfig)
	if err != nil {
		mainLog.Load().Fatal().Err(err).Msg("failed create new service")
	}
	serviceLogger, err := s.Logger(nil)
	if err != nil {
		mainLog.Load().Error().Err(err).Msg("failed to get service logger")
		return
	}

	if err := s.Run(); err != nil {
		if sErr := serviceLogger.Error(err); sErr != nil {
			mainLog.Load().Error().Err(sErr).Msg("failed to write service log")
		}
		mainLog.Load().Error().Err(err).Msg("failed to start service")
	}
}

// InitRunCmd creates the run command with proper logic
func InitRunCmd() *cobra.Command {
	rc := NewRunCommand()

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the domain filtering service",
		Args:  cobra.NoArgs,
		Run:   rc.Run,
	}
	runCmd.Flags().StringVarP(&logPath, "log", "", "", "Path to log file")
	runCmd.Flags().StringVarP(&metricsListen, "metrics_listener", "", "", "Metrics listener address and port, in format: address:port")
	runCmd.Flags().StringVarP(&controlSocket, "control_socket", "", "", "Path to control unix socket")
	runCmd.Flags().StringVarP(&homedir, "homedir", "", "", "")
	_ = runCmd.Flags().MarkHidden("homedir")

	rootCmd.AddCommand(runCmd)

	return runCmd
}
