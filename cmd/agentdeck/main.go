package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/agentdeck/pkg/client"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags are shared by every command.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
	Insecure   bool
}

func (g *GlobalFlags) client() (*client.Client, error) {
	return client.New(client.Config{BaseURL: g.APIUrl, Timeout: g.APITimeout, Insecure: g.Insecure})
}

func buildRoot() *cobra.Command {
	flags := &GlobalFlags{}
	root := &cobra.Command{
		Use:   "agentdeck",
		Short: "Operator console for long-running agents",
		Long: `agentdeck supervises agent processes, keeps each agent's files in a
sandboxed workspace and serves both over an HTTP API.

Examples:
  agentdeck serve --config agentdeck.toml
  agentdeck agents
  agentdeck start <agent-id>
  agentdeck logs <agent-id> --follow
  agentdeck put <agent-id> bot.py ./bot.py`,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to config file (TOML, YAML or JSON)")
	pf.StringVar(&flags.APIUrl, "api-url", "http://localhost:3000/api", "console API base URL")
	pf.DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	pf.BoolVar(&flags.Insecure, "insecure", false, "skip TLS certificate verification")

	root.AddCommand(
		createServeCommand(flags),
		createAgentsCommand(flags),
		createControlCommand(flags, "start", "Start an agent"),
		createControlCommand(flags, "stop", "Stop an agent"),
		createControlCommand(flags, "restart", "Stop then start an agent"),
		createStatusCommand(flags),
		createLogsCommand(flags),
		createLsCommand(flags),
		createCatCommand(flags),
		createPutCommand(flags),
		createRmCommand(flags),
		createMkdirCommand(flags),
		createTouchCommand(flags),
	)
	return root
}
