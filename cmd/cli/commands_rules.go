package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/Control-D-Inc/domainfilter/internal/filter"
)

// RulesCommand handles rules-related operations
type RulesCommand struct{}

// NewRulesCommand creates a new rules command handler
func NewRulesCommand() *RulesCommand {
	return &RulesCommand{}
}

// ListRules prints the configured filters in evaluation order.
func (rc *RulesCommand) ListRules(cmd *cobra.Command, args []string) error {
	if err := loadConfig(cmd, false); err != nil {
		return err
	}
	chain, err := filter.NewChainFromConfig(&cfg)
	if err != nil {
		return err
	}
	renderRules(cmd.OutOrStdout(), ruleStatsFromChain(chain, nil))
	fmt.Fprintf(cmd.OutOrStdout(), "chain %s policy: %s\n", chain.Name(), chain.Policy())
	return nil
}

// ListRunningRules prints the filters of the running service with their hit counts.
func (rc *RulesCommand) ListRunningRules(cmd *cobra.Command, args []string) error {
	cc := newControlClient(clientControlSocketPath())
	resp, err := cc.get(rulesPath)
	if err != nil {
		return fmt.Errorf("failed to get rules: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		buf, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to get rules: %s", buf)
	}
	var rules rulesResponse
	if err := json.NewDecoder(resp.Body).Decode(&rules); err != nil {
		return fmt.Errorf("failed to decode rules: %w", err)
	}
	renderRules(cmd.OutOrStdout(), rules.Rules)
	fmt.Fprintf(cmd.OutOrStdout(), "chain %s policy: %s\n", rules.Chain, rules.Policy)
	return nil
}

// Validate validates the config, reporting every invalid field.
func (rc *RulesCommand) Validate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(cmd, false); err != nil {
		return err
	}
	if _, err := filter.NewChainFromConfig(&cfg); err != nil {
		return err
	}
	mainLog.Load().Notice().Msg("config is valid")
	return nil
}

func renderRules(w io.Writer, rules []ruleStat) {
	withHits := false
	for _, r := range rules {
		if r.Hits != nil {
			withHits = true
			break
		}
	}
	data := make([][]string, 0, len(rules))
	for _, r := range rules {
		row := []string{r.Key, r.Name, r.Mode, r.Pattern}
		if withHits {
			hits := ""
			if r.Hits != nil {
				hits = strconv.FormatUint(*r.Hits, 10)
			}
			row = append(row, hits)
		}
		data = append(data, row)
	}
	headers := []string{"Filter", "Name", "Mode", "Pattern"}
	if withHits {
		headers = append(headers, "Hits")
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoFormatHeaders(false)
	table.AppendBulk(data)
	table.Render()
}

// InitRulesCmd creates the rules and validate commands with proper logic
func InitRulesCmd() *cobra.Command {
	rc := NewRulesCommand()

	listRulesCmd := &cobra.Command{
		Use:   "list",
		Short: "List configured filters",
		Args:  cobra.NoArgs,
		RunE:  rc.ListRules,
	}
	runningRulesCmd := &cobra.Command{
		Use:   "running",
		Short: "List filters of the running service with hit counts",
		Args:  cobra.NoArgs,
		RunE:  rc.ListRunningRules,
	}
	runningRulesCmd.Flags().StringVarP(&controlSocket, "control_socket", "", "", "Path to control unix socket")
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage domain filters",
		Args:  cobra.OnlyValidArgs,
		ValidArgs: []string{
			listRulesCmd.Use,
			runningRulesCmd.Use,
		},
	}
	rulesCmd.AddCommand(listRulesCmd)
	rulesCmd.AddCommand(runningRulesCmd)
	rootCmd.AddCommand(rulesCmd)

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		Args:  cobra.NoArgs,
		RunE:  rc.Validate,
	}
	rootCmd.AddCommand(validateCmd)

	return rulesCmd
}
