package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"crucible/internal/sovereign"
)

var sovereignCmd = &cobra.Command{
	Use:   "sovereign",
	Short: "Ingest documents, inspect versions, diff, export, or watch a directory",
}

var sovereignManifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "List the sovereign namespace's verbs",
	RunE: func(cmd *cobra.Command, args []string) error {
		render(node.SovereignManifest(cmd.Context()))
		return nil
	},
}

var ingestSourceFlag string

var sovereignIngestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Ingest a file's current bytes from disk",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		render(node.SovereignIngest(cmd.Context(), args[0], content, ingestSourceFlag))
		return nil
	},
}

var sovereignQueryCmd = &cobra.Command{
	Use:   "query [path]",
	Short: "Show an entity's version history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		render(node.SovereignQuery(cmd.Context(), args[0]))
		return nil
	},
}

var sovereignDiffCmd = &cobra.Command{
	Use:   "diff [path] [external-file]",
	Short: "Compare the stored current version against external bytes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		external, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		render(node.SovereignDiff(cmd.Context(), args[0], external))
		return nil
	},
}

var sovereignExportCmd = &cobra.Command{
	Use:   "export [path]",
	Short: "Export an entity's current bytes to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp := node.SovereignExport(cmd.Context(), args[0])
		if !resp.Success {
			render(resp)
			return nil
		}
		if content, ok := resp.Data["content_bytes"].([]byte); ok {
			os.Stdout.Write(content)
		}
		exitCode = 0
		return nil
	},
}

var watchSourceFlag string

var sovereignWatchCmd = &cobra.Command{
	Use:   "watch [directory]",
	Short: "Watch a directory and re-ingest files as they change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := sovereign.NewWatcher(sov, args[0], watchSourceFlag)
		if err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()

		fmt.Printf("watching %s (ctrl-c to stop)\n", args[0])
		<-ctx.Done()
		return nil
	},
}

func init() {
	sovereignIngestCmd.Flags().StringVar(&ingestSourceFlag, "source", "cli", "provenance source label")
	sovereignWatchCmd.Flags().StringVar(&watchSourceFlag, "source", "watch", "provenance source label for re-ingested files")

	sovereignCmd.AddCommand(
		sovereignManifestCmd,
		sovereignIngestCmd,
		sovereignQueryCmd,
		sovereignDiffCmd,
		sovereignExportCmd,
		sovereignWatchCmd,
	)
}
