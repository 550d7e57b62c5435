package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"crucible/internal/crystal"
)

var crystalCmd = &cobra.Command{
	Use:   "crystal",
	Short: "Compress marks into crystals, retrieve within a budget, or walk a time range",
}

var crystalManifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "List the crystal namespace's verbs",
	RunE: func(cmd *cobra.Command, args []string) error {
		render(node.CrystalManifest(cmd.Context()))
		return nil
	},
}

var crystallizeLevelFlag string
var crystallizeSinceFlag time.Duration

var crystalCrystallizeCmd = &cobra.Command{
	Use:   "crystallize",
	Short: "Crystallize sources since a duration ago into a crystal at a level",
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := parseLevel(crystallizeLevelFlag)
		if err != nil {
			return err
		}
		render(node.CrystalCrystallize(cmd.Context(), level, time.Now().Add(-crystallizeSinceFlag)))
		return nil
	},
}

var queryBudgetFlag int

var crystalQueryCmd = &cobra.Command{
	Use:   "query [q]",
	Short: "Retrieve crystals within a token budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		render(node.CrystalQuery(cmd.Context(), args[0], queryBudgetFlag))
		return nil
	},
}

var timelineSinceFlag time.Duration

var crystalTimelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "List crystals across all levels within a duration of now",
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now()
		render(node.CrystalTimeline(cmd.Context(), now.Add(-timelineSinceFlag), now))
		return nil
	},
}

func parseLevel(s string) (crystal.Level, error) {
	switch s {
	case "session":
		return crystal.LevelSession, nil
	case "day":
		return crystal.LevelDay, nil
	case "week":
		return crystal.LevelWeek, nil
	case "epoch":
		return crystal.LevelEpoch, nil
	default:
		return 0, fmt.Errorf("unknown crystal level %q (want session, day, week, or epoch)", s)
	}
}

func init() {
	crystalCrystallizeCmd.Flags().StringVar(&crystallizeLevelFlag, "level", "session", "crystal level: session, day, week, epoch")
	crystalCrystallizeCmd.Flags().DurationVar(&crystallizeSinceFlag, "since", time.Hour, "how far back to gather sources from")
	crystalQueryCmd.Flags().IntVar(&queryBudgetFlag, "budget", 2000, "token budget for retrieval")
	crystalTimelineCmd.Flags().DurationVar(&timelineSinceFlag, "since", 24*time.Hour, "how far back the timeline spans")

	crystalCmd.AddCommand(
		crystalManifestCmd,
		crystalCrystallizeCmd,
		crystalQueryCmd,
		crystalTimelineCmd,
	)
}
