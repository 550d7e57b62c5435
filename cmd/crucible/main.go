// Package main implements the crucible CLI, a thin translator onto the
// internal/rpc verb dispatch via a cobra root command with persistent
// flags for store/logger construction.
//
// File index:
//   - main.go       - entry point, rootCmd, global flags, store wiring
//   - cmd_witness.go   - witness capture/action/rollback-window/escalate
//   - cmd_sovereign.go - sovereign ingest/query/diff/export/watch
//   - cmd_graph.go     - graph neighbors/evidence/trace/search
//   - cmd_crystal.go   - crystal crystallize/query/timeline
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crucible/internal/config"
	"crucible/internal/crystal"
	"crucible/internal/edgegraph"
	"crucible/internal/logging"
	"crucible/internal/mark"
	"crucible/internal/rpc"
	"crucible/internal/sovereign"
	"crucible/internal/trust"
)

var (
	homeFlag    string
	verboseFlag bool

	cfg    *config.Config
	marks  *mark.Store
	sov    *sovereign.Store
	cryst  *crystal.Store
	node   *rpc.Node
	gate   *trust.Gate
	logger *zap.Logger

	// exitCode lets a RunE communicate a non-zero exit per §6's CLI
	// exit-code table without cobra treating the command as failed.
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:   "crucible",
	Short: "crucible - an autonomous agent's memory, graph, and trust substrate",
	Long: `crucible records what an agent senses and does as an append-only
mark ledger, compresses history into crystals, exposes a composable
edge graph across everything it has ingested, and gates what the
agent is trusted to do on its own.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		home := homeFlag
		if home == "" {
			h, err := config.Home()
			if err != nil {
				return err
			}
			home = h
		}
		if err := os.MkdirAll(home, 0755); err != nil {
			return fmt.Errorf("create home %s: %w", home, err)
		}

		loaded, err := config.Load(home)
		if err != nil {
			return err
		}
		loaded.Logging.Debug = loaded.Logging.Debug || verboseFlag
		cfg = loaded

		if err := logging.Init(cfg.Logging.Debug); err != nil {
			return fmt.Errorf("init logging: %w", err)
		}
		logger = logging.Get(logging.CategoryCLI)

		marks, err = mark.Open(filepath.Join(home, cfg.Store.MarkDB), cfg.Store.BusyWatermark)
		if err != nil {
			return fmt.Errorf("open mark store: %w", err)
		}
		sov, err = sovereign.Open(filepath.Join(home, cfg.Store.SovereignDB), marks, sovereign.MarkdownLinkParser{})
		if err != nil {
			return fmt.Errorf("open sovereign store: %w", err)
		}
		cryst, err = crystal.Open(filepath.Join(home, cfg.Store.CrystalDB))
		if err != nil {
			return fmt.Errorf("open crystal store: %w", err)
		}

		graph := edgegraph.NewService(
			&edgegraph.SovereignAdapter{Store: sov},
			&edgegraph.WitnessAdapter{Store: marks},
		)
		crystallizer := crystal.NewCrystallizer(nil, cfg.Crystal.SimilarityThreshold)
		node = rpc.NewNode(marks, sov, graph, cryst, crystallizer)

		ratePerHour := make(map[trust.Level]int, len(cfg.Trust.RateLimitPerHour))
		for name, n := range cfg.Trust.RateLimitPerHour {
			if lvl, ok := levelByName[name]; ok {
				ratePerHour[lvl] = n
			}
		}
		gate = trust.NewGate(trust.LevelReadOnly, ratePerHour, marks)
		node.Gate = gate
		node.SandboxPrefixes = cfg.Trust.SandboxPrefixes

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if sov != nil {
			sov.Close()
		}
		if cryst != nil {
			cryst.Close()
		}
		if marks != nil {
			marks.Close()
		}
		logging.Sync()
	},
}

var levelByName = map[string]trust.Level{
	"L0_READ_ONLY":  trust.LevelReadOnly,
	"L1_BOUNDED":    trust.LevelBounded,
	"L2_SUGGESTION": trust.LevelSuggestion,
	"L3_AUTONOMOUS": trust.LevelAutonomous,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "crucible home directory (default: $CRUCIBLE_HOME, else $XDG_CONFIG_HOME/crucible, else ~/.config/crucible)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(witnessCmd, sovereignCmd, graphCmd, crystalCmd)
}

// render prints a Response's rendering line and sets exitCode for main
// to return, per §6's 0/2/3/4/5/6 exit-code table.
func render(resp rpc.Response) {
	if resp.Success {
		fmt.Println(resp.Rendering)
		exitCode = 0
		return
	}
	fmt.Fprintln(os.Stderr, resp.Rendering)
	switch resp.ErrorKind {
	case "INVARIANT_VIOLATION":
		exitCode = 2
	case "DENIED":
		exitCode = 3
	case "BUSY":
		exitCode = 4
	case "NOT_FOUND":
		exitCode = 5
	case "CORRUPTION":
		exitCode = 6
	default:
		exitCode = 1
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}
