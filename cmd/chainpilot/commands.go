package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/executor"
	"ChainPilot/internal/plan"
	"ChainPilot/internal/stream"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func newRootCmd() *cobra.Command {
	var opts bootstrapOptions

	root := &cobra.Command{
		Use:     "chainpilot",
		Short:   "Chat with the staking assistant and execute its on-chain plans",
		Version: version,
		Example: `  # Ask a question
  $ chainpilot chat "what is my staking APR?"

  # Let the assistant plan and execute a stake
  $ chainpilot chat --execute "stake 100"

  # Show recent executions
  $ chainpilot history -n 20`,
		SilenceUsage: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the JSON configuration file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading configuration")

	root.AddCommand(newChatCmd(&opts), newHistoryCmd(&opts), newChainsCmd(&opts))
	return root
}

func newChatCmd(opts *bootstrapOptions) *cobra.Command {
	var execute bool
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "send one message and stream the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			local := *opts
			local.withWallet = execute
			a, err := bootstrap(cmd.Context(), local)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			id, err := a.agent.Send(cmd.Context(), strings.Join(args, " "), newEventPrinter(out))
			fmt.Fprintln(out)
			if err != nil {
				if xerrors.IsCancelled(err) {
					return nil
				}
				return err
			}

			p, ok := a.agent.State().Plan(id)
			if !ok {
				return nil
			}
			printPlan(out, p)
			if !execute {
				fmt.Fprintln(out, "Re-run with --execute to submit these transactions.")
				return nil
			}

			result, err := a.agent.ExecutePlan(cmd.Context(), id, func(pr executor.Progress) {
				if pr.Message != "" {
					fmt.Fprintf(out, "  %s\n", pr.Message)
				}
			})
			if err != nil {
				d := executor.Sanitize(err)
				if d.Silent {
					return nil
				}
				if d.Detail != "" {
					fmt.Fprintln(out, d.Detail)
				}
				return fmt.Errorf("%s", d.Headline)
			}
			for _, step := range result.Steps {
				fmt.Fprintf(out, "  %s (block %d)\n", step.TxHash, step.Receipt.BlockNumber)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&execute, "execute", "x", false, "submit the proposed transactions with the configured wallet")
	return cmd
}

func newHistoryCmd(opts *bootstrapOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "list recent transaction executions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context(), *opts)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.agent.ListHistory(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tACTION\tSTEP\tSTATUS\tTX HASH\tERROR")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\t%s\n",
					time.UnixMilli(e.CreatedAt).Format(time.DateTime),
					e.ActionType, e.Step, e.Total, e.Status, e.TxHash, e.ErrorCode)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}

func newChainsCmd(opts *bootstrapOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "list configured networks and their RPC endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context(), *opts)
			if err != nil {
				return err
			}
			defer a.Close()

			registry, err := a.openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCHAIN ID\tENDPOINTS\tDEFAULT")
			for _, n := range registry.Networks() {
				def := ""
				if n.Name == registry.Default().Name {
					def = "*"
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", n.Name, n.ChainID, strings.Join(n.Endpoints, ","), def)
			}
			return w.Flush()
		},
	}
}

// newEventPrinter 返回打印流事件的回调。收到计划后的增量文本与会话状态一致地被丢弃。
func newEventPrinter(out io.Writer) stream.Sink {
	planned := false
	return func(ev stream.Event) {
		switch ev.(type) {
		case stream.PlanEvent:
			planned = true
		case stream.DeltaEvent:
			if planned {
				return
			}
		}
		printEvent(out, ev)
	}
}

func printEvent(out io.Writer, ev stream.Event) {
	switch e := ev.(type) {
	case stream.DeltaEvent:
		fmt.Fprint(out, e.Text)
	case stream.PlanEvent:
		fmt.Fprintf(out, "\n%s", e.Plan.UserMessage)
	case stream.ErrorEvent:
		fmt.Fprintf(out, "\n[%s] %s", e.Code, e.Message)
	}
}

func printPlan(out io.Writer, p *plan.Plan) {
	txs := p.WorkingTransactions()
	fmt.Fprintf(out, "Plan %s: %d transaction(s)\n", p.ActionType, len(txs))
	for _, w := range p.Warnings {
		fmt.Fprintf(out, "  warning: %s\n", w)
	}
	for i, tx := range txs {
		fmt.Fprintf(out, "  %d. chain %d to %s value %s\n", i+1, tx.ChainID, tx.To, valueOrZero(tx.Value))
	}
}

func valueOrZero(v string) string {
	if strings.TrimSpace(v) == "" {
		return "0"
	}
	return v
}
