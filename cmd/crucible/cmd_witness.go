package main

import (
	"time"

	"github.com/spf13/cobra"
)

var witnessCmd = &cobra.Command{
	Use:   "witness",
	Short: "Capture thoughts and actions, inspect the rollback window, or request escalation",
}

var witnessManifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "List the witness namespace's verbs",
	RunE: func(cmd *cobra.Command, args []string) error {
		render(node.WitnessManifest(cmd.Context()))
		return nil
	},
}

var witnessCaptureCmd = &cobra.Command{
	Use:   "capture [thought]",
	Short: "Record an observed thought",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		render(node.WitnessCapture(cmd.Context(), args[0]))
		return nil
	},
}

var witnessActionCmd = &cobra.Command{
	Use:   "action [action] [result]",
	Short: "Record a completed action and its result",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		render(node.WitnessAction(cmd.Context(), args[0], args[1]))
		return nil
	},
}

var rollbackWindowFlag time.Duration

var witnessRollbackWindowCmd = &cobra.Command{
	Use:   "rollback-window",
	Short: "List marks appended within the last window",
	RunE: func(cmd *cobra.Command, args []string) error {
		render(node.WitnessRollbackWindow(cmd.Context(), rollbackWindowFlag))
		return nil
	},
}

var witnessEscalateCmd = &cobra.Command{
	Use:   "escalate [target-level]",
	Short: "Propose a trust escalation (does not apply it)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		render(node.WitnessEscalate(cmd.Context(), args[0]))
		return nil
	},
}

func init() {
	witnessRollbackWindowCmd.Flags().DurationVar(&rollbackWindowFlag, "window", time.Hour, "how far back to look")

	witnessCmd.AddCommand(
		witnessManifestCmd,
		witnessCaptureCmd,
		witnessActionCmd,
		witnessRollbackWindowCmd,
		witnessEscalateCmd,
	)
}
