// Command forgectl drives a running webforge gateway over NATS.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mtzanidakis/webforge/internal/control"
	"github.com/mtzanidakis/webforge/internal/natsbus"
)

var version = "dev"

// caller sends one control command.
type caller interface {
	Call(conversation, typ string, payload any) (*control.Reply, error)
}

type options struct {
	natsURL      string
	conversation string
	timeout      time.Duration
}

func main() {
	if err := newRootCommand(nil).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newRootCommand builds the CLI. A nil c connects to NATS on first use.
func newRootCommand(c caller) *cobra.Command {
	opts := &options{}
	var conn *natsbus.Client

	root := &cobra.Command{
		Use:           "forgectl",
		Short:         "Control a webforge gateway",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if c != nil {
				return nil
			}
			nc, err := natsbus.NewClientFromURL(opts.natsURL)
			if err != nil {
				return err
			}
			conn = nc
			c = control.NewClient(nc, opts.timeout)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if conn != nil {
				conn.Close()
			}
		},
	}

	defaultURL := os.Getenv("WEBFORGE_NATS_URL")
	if defaultURL == "" {
		defaultURL = "nats://127.0.0.1:4222"
	}
	root.PersistentFlags().StringVar(&opts.natsURL, "nats", defaultURL, "NATS server URL")
	root.PersistentFlags().StringVarP(&opts.conversation, "conversation", "c", "default", "conversation id")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")

	call := func(typ string, payload any) (*control.Reply, error) {
		return c.Call(opts.conversation, typ, payload)
	}
	root.AddCommand(
		newSubmitCommand(call),
		newAgentsCommand(call),
		newShowCommand(call),
		newStatusCommand(call),
		newAgentActionCommand(call, "cancel", control.CmdCancel, "Cancel an agent and its sub-agents"),
		newAgentActionCommand(call, "confirm", control.CmdConfirm, "Accept the deployed result of a waiting root"),
		newAgentActionCommand(call, "retry", control.CmdRetry, "Restart a failed agent"),
		newFeedbackCommand(call),
		newRebuildCommand(call),
		newRunningCommand(call),
		newDepsCommand(call),
		newDeploymentsCommand(call),
	)
	return root
}
