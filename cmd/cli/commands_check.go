package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/miekg/dns"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/Control-D-Inc/domainfilter/internal/filter"
)

// CheckCommand handles offline evaluation of domains.
type CheckCommand struct{}

// NewCheckCommand creates a new check command handler
func NewCheckCommand() *CheckCommand {
	return &CheckCommand{}
}

// Check evaluates every domain argument against the configured chain.
func (cc *CheckCommand) Check(cmd *cobra.Command, args []string) error {
	if err := loadConfig(cmd, false); err != nil {
		return err
	}
	chain, err := filter.NewChainFromConfig(&cfg)
	if err != nil {
		return err
	}
	checkDomains(cmd.Context(), cmd.OutOrStdout(), chain, args, checkAll)
	return nil
}

func checkDomains(ctx context.Context, w io.Writer, chain *filter.Chain, domains []string, all bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, domain := range domains {
		warnIfNotDomainName(domain)
		if all {
			renderRuleMatches(w, chain, domain)
		}
		res := chain.Evaluate(ctx, &filter.MatchRequest{Domain: domain})
		fmt.Fprintln(w, formatResult(res))
	}
}

// warnIfNotDomainName warns about candidates which could not be a resolved name.
// They are evaluated anyway, the matcher is byte oriented.
func warnIfNotDomainName(domain string) {
	if _, ok := dns.IsDomainName(domain); !ok {
		mainLog.Load().Warn().Msgf("%q is not a valid domain name", domain)
	}
}

func formatResult(res *filter.MatchResult) string {
	if !res.Matched {
		return fmt.Sprintf("%s: %s (chain %s policy)", res.Domain, res.Verdict, res.Chain)
	}
	return fmt.Sprintf("%s: %s (filter.%s %q: %s)", res.Domain, res.Verdict, res.RuleKey, res.RuleName, res.MatchedRule)
}

func renderRuleMatches(w io.Writer, chain *filter.Chain, domain string) {
	entries := chain.Entries()
	data := make([][]string, 0, len(entries))
	for _, e := range entries {
		data = append(data, []string{e.Key, e.Name, e.Rule.Mode().String(), e.Rule.Pattern(), strconv.FormatBool(e.Rule.Matches(domain))})
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Filter", "Name", "Mode", "Pattern", "Match " + domain})
	table.SetAutoFormatHeaders(false)
	table.AppendBulk(data)
	table.Render()
}

// InitCheckCmd creates the check command with proper logic
func InitCheckCmd() *cobra.Command {
	cc := NewCheckCommand()

	checkCmd := &cobra.Command{
		Use:   "check DOMAIN...",
		Short: "Evaluate domains against the configured filters",
		Args:  cobra.MinimumNArgs(1),
		RunE:  cc.Check,
	}
	checkCmd.Flags().BoolVarP(&checkAll, "all", "a", false, "Show the result of every filter")

	rootCmd.AddCommand(checkCmd)

	return checkCmd
}
