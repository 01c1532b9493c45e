package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/agentdeck/pkg/client"
)

// AgentFlags holds the editable agent fields for create and update.
type AgentFlags struct {
	Name           string
	Description    string
	Tags           []string
	DirectoryRoot  string
	StartupCommand string
	CredentialEnv  string
	Status         string
	JSON           bool
}

// spec only sets fields whose flags were given.
func (f *AgentFlags) spec(cmd *cobra.Command) client.AgentSpec {
	var s client.AgentSpec
	changed := cmd.Flags().Changed
	if changed("name") {
		s.Name = &f.Name
	}
	if changed("description") {
		s.Description = &f.Description
	}
	if changed("tags") {
		s.Tags = &f.Tags
	}
	if changed("dir") {
		s.DirectoryRoot = &f.DirectoryRoot
	}
	if changed("command") {
		s.StartupCommand = &f.StartupCommand
	}
	if changed("status") {
		s.Status = &f.Status
	}
	if f.CredentialEnv != "" {
		v := os.Getenv(f.CredentialEnv)
		s.Credential = &v
	}
	return s
}

func bindAgentFlags(cmd *cobra.Command, f *AgentFlags) {
	cmd.Flags().StringVar(&f.Name, "name", "", "display name")
	cmd.Flags().StringVar(&f.Description, "description", "", "description")
	cmd.Flags().StringSliceVar(&f.Tags, "tags", nil, "comma separated tags")
	cmd.Flags().StringVar(&f.DirectoryRoot, "dir", "", "agent directory, relative to the workspace root")
	cmd.Flags().StringVar(&f.StartupCommand, "command", "", "startup command, e.g. \"python3 bot.py\"")
	// The credential is read from the environment so it never lands in shell history.
	cmd.Flags().StringVar(&f.CredentialEnv, "credential-env", "", "name of the environment variable holding the agent credential")
	cmd.Flags().StringVar(&f.Status, "status", "", "operator status: IDLE, DND or MAINTENANCE")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON")
}

func createAgentsCommand(global *GlobalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List agents, or manage them with a subcommand",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := global.client()
			if err != nil {
				return err
			}
			agents, err := c.ListAgents(ctx(cmd))
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), agents)
			}
			printAgents(cmd.OutOrStdout(), agents)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	createFlags := &AgentFlags{}
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a new agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := global.client()
			if err != nil {
				return err
			}
			a, err := c.CreateAgent(ctx(cmd), createFlags.spec(cmd))
			if err != nil {
				return err
			}
			return printAgent(cmd.OutOrStdout(), a, createFlags.JSON)
		},
	}
	bindAgentFlags(create, createFlags)
	if err := create.MarkFlagRequired("name"); err != nil {
		panic(err)
	}

	updateFlags := &AgentFlags{}
	update := &cobra.Command{
		Use:   "update <agent-id>",
		Short: "Change an agent's settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := global.client()
			if err != nil {
				return err
			}
			a, err := c.UpdateAgent(ctx(cmd), args[0], updateFlags.spec(cmd))
			if err != nil {
				return err
			}
			return printAgent(cmd.OutOrStdout(), a, updateFlags.JSON)
		},
	}
	bindAgentFlags(update, updateFlags)

	del := &cobra.Command{
		Use:   "delete <agent-id>",
		Short: "Stop an agent and remove its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := global.client()
			if err != nil {
				return err
			}
			if err := c.DeleteAgent(ctx(cmd), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
	cmd.AddCommand(create, update, del)
	return cmd
}

func createControlCommand(global *GlobalFlags, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <agent-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := global.client()
			if err != nil {
				return err
			}
			res, err := c.Control(ctx(cmd), args[0], strings.ToUpper(verb))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.PID > 0 {
				_, _ = fmt.Fprintf(out, "%s %s: %s (pid %d)\n", strings.ToLower(res.Action), args[0], res.Agent.Status, res.PID)
			} else {
				_, _ = fmt.Fprintf(out, "%s %s: %s\n", strings.ToLower(res.Action), args[0], res.Agent.Status)
			}
			return nil
		},
	}
}

func createStatusCommand(global *GlobalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <agent-id>",
		Short: "Show an agent's record, process and resource usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := global.client()
			if err != nil {
				return err
			}
			st, err := c.Status(ctx(cmd), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), st)
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// LogsFlags holds flags for the logs command
type LogsFlags struct {
	Follow   bool
	Interval time.Duration
}

func createLogsCommand(global *GlobalFlags) *cobra.Command {
	flags := &LogsFlags{}
	cmd := &cobra.Command{
		Use:   "logs <agent-id>",
		Short: "Print the tail of an agent's log",
		Long: `Print the tail of an agent's log. With --follow the tail is reprinted
whenever it changes, pushed over a websocket; add --interval to poll instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := global.client()
			if err != nil {
				return err
			}
			return runLogs(ctx(cmd), c, args[0], flags, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&flags.Follow, "follow", "f", false, "keep printing as the log changes")
	cmd.Flags().DurationVar(&flags.Interval, "interval", 0, "poll interval when following (0 uses the stream)")
	return cmd
}

func runLogs(ctx context.Context, c *client.Client, id string, flags *LogsFlags, out io.Writer) error {
	if !flags.Follow {
		l, err := c.Logs(ctx, id)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, l.Logs)
		return nil
	}
	last := ""
	emit := func(l client.Logs) error {
		if l.Logs == last {
			return nil
		}
		last = l.Logs
		_, err := fmt.Fprintln(out, l.Logs)
		return err
	}
	var err error
	if flags.Interval > 0 {
		err = pollLogs(ctx, c, id, flags.Interval, emit)
	} else {
		err = c.FollowLogs(ctx, id, emit)
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func pollLogs(ctx context.Context, c *client.Client, id string, every time.Duration, fn func(client.Logs) error) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		l, err := c.Logs(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(l); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func printAgents(w io.Writer, agents []client.Agent) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tPID\tDIRECTORY")
	for _, a := range agents {
		pid := "-"
		if a.PID > 0 {
			pid = fmt.Sprint(a.PID)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Name, a.Status, pid, a.DirectoryRoot)
	}
	_ = tw.Flush()
}

func printAgent(w io.Writer, a client.Agent, asJSON bool) error {
	if asJSON {
		return printJSON(w, a)
	}
	printAgents(w, []client.Agent{a})
	return nil
}

func printStatus(w io.Writer, st client.AgentStatus) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "agent\t%s (%s)\n", st.Agent.Name, st.Agent.ID)
	_, _ = fmt.Fprintf(tw, "status\t%s\n", st.Agent.Status)
	_, _ = fmt.Fprintf(tw, "state\t%s\n", st.State)
	_, _ = fmt.Fprintf(tw, "handle\t%s\n", st.Handle)
	if st.Process != nil {
		_, _ = fmt.Fprintf(tw, "process\tpid %d, %s\n", st.Process.PID, st.Process.Status)
	}
	if st.Resources != nil {
		_, _ = fmt.Fprintf(tw, "resources\t%.1f%% cpu, %.1f MB\n", st.Resources.CPUPercent, st.Resources.MemoryMB)
	}
	_, _ = fmt.Fprintf(tw, "uptime\t%s\n", st.Uptime)
	_ = tw.Flush()
}
