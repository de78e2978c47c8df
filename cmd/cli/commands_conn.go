package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

// ConnCommand handles connection metadata of the running service.
type ConnCommand struct {
	controlClient *controlClient
}

// NewConnCommand creates a new conn command handler
func NewConnCommand() *ConnCommand {
	return &ConnCommand{controlClient: newControlClient(clientControlSocketPath())}
}

// Set attaches a domain to a connection.
func (cc *ConnCommand) Set(cmd *cobra.Command, args []string) error {
	_, err := cc.do(connPath, &connRequest{Conn: args[0], Domain: args[1]})
	return err
}

// Delete forgets a connection.
func (cc *ConnCommand) Delete(cmd *cobra.Command, args []string) error {
	_, err := cc.do(connDeletePath, &connRequest{Conn: args[0]})
	return err
}

// Evaluate prints the verdict of the running service for a connection.
func (cc *ConnCommand) Evaluate(cmd *cobra.Command, args []string) error {
	buf, err := cc.do(evaluatePath, &evaluateRequest{Conn: args[0]})
	if err != nil {
		return err
	}
	var res evaluateResponse
	if err := json.Unmarshal(buf, &res); err != nil {
		return fmt.Errorf("failed to decode evaluate response: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatResult(&res.MatchResult))
	return nil
}

func (cc *ConnCommand) do(path string, req any) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := cc.controlClient.post(path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed: %s", bytes.TrimSpace(buf))
	}
	return buf, nil
}

// InitConnCmd creates the conn command with proper logic
func InitConnCmd() *cobra.Command {
	connSetCmd := &cobra.Command{
		Use:   "set CONN DOMAIN",
		Short: `Attach a domain to a connection, CONN is in format "tcp:src_ip:port->dst_ip:port"`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return NewConnCommand().Set(cmd, args)
		},
	}
	connDelCmd := &cobra.Command{
		Use:   "del CONN",
		Short: "Forget a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return NewConnCommand().Delete(cmd, args)
		},
	}
	connEvalCmd := &cobra.Command{
		Use:   "eval CONN",
		Short: "Evaluate a connection against the running filters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return NewConnCommand().Evaluate(cmd, args)
		},
	}
	connCmd := &cobra.Command{
		Use:   "conn",
		Short: "Manage connections tracked by the running service",
	}
	connCmd.PersistentFlags().StringVarP(&controlSocket, "control_socket", "", "", "Path to control unix socket")
	connCmd.AddCommand(connSetCmd)
	connCmd.AddCommand(connDelCmd)
	connCmd.AddCommand(connEvalCmd)
	rootCmd.AddCommand(connCmd)

	return connCmd
}
