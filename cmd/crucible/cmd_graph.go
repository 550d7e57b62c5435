package main

import (
	"strings"

	"github.com/spf13/cobra"

	"crucible/internal/edgegraph"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Explore neighbors, evidence, traced paths, and full-text matches",
}

var graphManifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "List the graph namespace's verbs",
	RunE: func(cmd *cobra.Command, args []string) error {
		render(node.GraphManifest(cmd.Context()))
		return nil
	},
}

var graphNeighborsCmd = &cobra.Command{
	Use:   "neighbors [path]",
	Short: "List incoming and outgoing edges for a path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		render(node.GraphNeighbors(cmd.Context(), args[0]))
		return nil
	},
}

var evidenceKindsFlag string

var graphEvidenceCmd = &cobra.Command{
	Use:   "evidence [path]",
	Short: "List evidentiary edges targeting a path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var kinds []edgegraph.EdgeKind
		if evidenceKindsFlag != "" {
			for _, k := range strings.Split(evidenceKindsFlag, ",") {
				kinds = append(kinds, edgegraph.EdgeKind(strings.TrimSpace(k)))
			}
		}
		render(node.GraphEvidence(cmd.Context(), args[0], kinds))
		return nil
	},
}

var traceMaxDepthFlag int

var graphTraceCmd = &cobra.Command{
	Use:   "trace [from] [to]",
	Short: "Find bounded simple paths between two paths",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		render(node.GraphTrace(cmd.Context(), args[0], args[1], traceMaxDepthFlag))
		return nil
	},
}

var graphSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Substring-match across every composed edge source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		render(node.GraphSearch(cmd.Context(), args[0]))
		return nil
	},
}

func init() {
	graphEvidenceCmd.Flags().StringVar(&evidenceKindsFlag, "kinds", "", "comma-separated edge kinds (default: EVIDENCE,IMPLEMENTS,HARMONY)")
	graphTraceCmd.Flags().IntVar(&traceMaxDepthFlag, "max-depth", 6, "maximum path depth")

	graphCmd.AddCommand(
		graphManifestCmd,
		graphNeighborsCmd,
		graphEvidenceCmd,
		graphTraceCmd,
		graphSearchCmd,
	)
}
