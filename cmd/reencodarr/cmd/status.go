package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mjc/reencodarr-sub000/internal/database"
	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/repository"
)

// stateOrder fixes the display order to match the lifecycle.
var stateOrder = []models.VideoState{
	models.VideoStateNeedsAnalysis,
	models.VideoStateAnalyzed,
	models.VideoStateCrfSearching,
	models.VideoStateCrfSearched,
	models.VideoStateEncoding,
	models.VideoStateEncoded,
	models.VideoStateFailed,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show video counts per pipeline state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		db, err := database.New(cfg.Database, slog.Default(), nil)
		if err != nil {
			return fmt.Errorf("connecting database: %w", err)
		}
		defer db.Close()

		counts, err := repository.NewVideoRepository(db.DB).CountByState(context.Background())
		if err != nil {
			return fmt.Errorf("counting videos: %w", err)
		}

		var total int64
		for _, state := range stateOrder {
			n := counts[state]
			total += n
			fmt.Printf("%-16s %s\n", state, colorForState(state)("%d", n))
		}
		fmt.Printf("%-16s %d\n", "total", total)
		return nil
	},
}

func colorForState(state models.VideoState) func(format string, a ...any) string {
	switch state {
	case models.VideoStateEncoded:
		return color.GreenString
	case models.VideoStateFailed:
		return color.RedString
	case models.VideoStateCrfSearching, models.VideoStateEncoding:
		return color.YellowString
	default:
		return fmt.Sprintf
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
