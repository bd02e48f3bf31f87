package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mtzanidakis/webforge/internal/control"
)

type callFunc func(typ string, payload any) (*control.Reply, error)

func newSubmitCommand(call callFunc) *cobra.Command {
	var opts struct {
		Wait       bool
		Difficulty int
		Vars       map[string]string
	}

	cmd := &cobra.Command{
		Use:   "submit <task>",
		Short: "Start a root agent for a task",
		Long: `Start a coordinator for the task in the selected conversation.

Examples:
  # Build a page in the default conversation
  forgectl submit "A landing page for a bakery"

  # Wait for a free slot and fill template variables
  forgectl submit -c shop --wait --var shop=Crumbs "A product page"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := call(control.CmdCreateTask, control.TaskRequest{
				Task:         strings.Join(args, " "),
				Wait:         opts.Wait,
				Difficulty:   opts.Difficulty,
				TemplateVars: opts.Vars,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started %s\n", reply.Agent.ID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Wait, "wait", false, "wait for a free slot instead of failing")
	cmd.Flags().IntVar(&opts.Difficulty, "difficulty", 0, "task difficulty; high values use the advanced backends")
	cmd.Flags().StringToStringVar(&opts.Vars, "var", nil, "template variable key=value")
	return cmd
}

func newAgentsCommand(call callFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the agents of a conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reply, err := call(control.CmdListAgents, nil)
			if err != nil {
				return err
			}
			if len(reply.Agents) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No agents.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPARENT\tROLE\tSTATUS\tPROGRESS\tSTEP")
			for _, a := range reply.Agents {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d%%\t%s\n", a.ID, dash(a.ParentID), a.Role, a.Status, a.Progress, a.Step)
			}
			return w.Flush()
		},
	}
}

func newShowCommand(call callFunc) *cobra.Command {
	var messages int

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one agent and its latest messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := call(control.CmdShowAgent, control.AgentRequest{ID: args[0]})
			if err != nil {
				return err
			}
			a := reply.Agent
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s) %s %d%%\n", a.ID, a.Role, a.Status, a.Progress)
			fmt.Fprintf(out, "Task: %s\n", a.Task)
			if a.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", a.Error)
			}
			if a.DeployedURL != "" {
				fmt.Fprintf(out, "Deployed: %s\n", a.DeployedURL)
			}
			if a.ReviewWarning != "" {
				fmt.Fprintf(out, "Review warning: %s\n", a.ReviewWarning)
			}
			if len(a.Children) > 0 {
				fmt.Fprintf(out, "Children: %s\n", strings.Join(a.Children, ", "))
			}
			msgs := a.Messages
			if messages >= 0 && len(msgs) > messages {
				msgs = msgs[len(msgs)-messages:]
			}
			for _, m := range msgs {
				fmt.Fprintf(out, "\n[%s] %s:\n%s\n", m.Type, m.Sender, m.Content)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&messages, "messages", "m", 5, "number of latest messages to print, -1 for all")
	return cmd
}

func newStatusCommand(call callFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the tree of active agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reply, err := call(control.CmdStatus, nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply.Status)
			return nil
		},
	}
}

func newAgentActionCommand(call callFunc, use, typ, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := call(typ, control.AgentRequest{ID: args[0]}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %s %s\n", use, args[0])
			return nil
		},
	}
}

func newFeedbackCommand(call callFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "feedback <id> <message>",
		Short: "Send feedback to an agent and put it back to work",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := call(control.CmdFeedback, control.AgentRequest{ID: args[0], Message: strings.Join(args[1:], " ")})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Feedback sent to %s\n", args[0])
			return nil
		},
	}
}

func newRebuildCommand(call callFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild <id>",
		Short: "Compile and deploy the current project of a root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := call(control.CmdRebuild, control.AgentRequest{ID: args[0]})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deployed: %s\n", reply.URL)
			return nil
		},
	}
}

func newRunningCommand(call callFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "running",
		Short: "List the agent loops running in the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reply, err := call(control.CmdRunning, nil)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CONVERSATION\tAGENT\tSTARTED\tIDLE\tPENDING")
			for _, r := range reply.Running {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", r.Conversation, r.AgentID,
					r.StartedAt.Local().Format("15:04:05"), time.Since(r.LastActive).Round(time.Second), r.Pending)
			}
			return w.Flush()
		},
	}
}

func newDepsCommand(call callFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Show imports that generated projects asked for but are not available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reply, err := call(control.CmdDeps, nil)
			if err != nil {
				return err
			}
			if len(reply.Deps) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No missing dependencies recorded.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODULE\tREQUESTS")
			for _, d := range reply.Deps {
				fmt.Fprintf(w, "%s\t%d\n", d.Name, d.Count)
			}
			return w.Flush()
		},
	}
}

func newDeploymentsCommand(call callFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "deployments",
		Short: "List the pages deployed in a conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reply, err := call(control.CmdDeployments, nil)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CREATED\tAGENT\tTITLE\tURL\tWARNING")
			for _, d := range reply.Deployments {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.CreatedAt.Local().Format("2006-01-02 15:04"),
					d.AgentID, d.Title, d.URL, dash(d.ReviewWarning))
			}
			return w.Flush()
		},
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
