package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mjc/reencodarr-sub000/internal/database"
	"github.com/mjc/reencodarr-sub000/internal/maintenance"
	"github.com/mjc/reencodarr-sub000/internal/repository"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Run bulk maintenance operations",
}

var resetFailedCmd = &cobra.Command{
	Use:   "failed",
	Short: "Reset all failed videos back to needs_analysis",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOperations(func(ctx context.Context, ops *maintenance.Operations) error {
			count, err := ops.ResetAllFailed(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s %d videos reset\n", color.GreenString("ok:"), count)
			return nil
		})
	},
}

var resetInvalidAudioCmd = &cobra.Command{
	Use:   "invalid-audio",
	Short: "Reanalyze videos whose encode args would disable audio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOperations(func(ctx context.Context, ops *maintenance.Operations) error {
			argCount, err := ops.ResetInvalidAudio(ctx)
			if err != nil {
				return err
			}
			metaCount, err := ops.ResetInvalidAudioMetadata(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s %d by args, %d by metadata\n",
				color.GreenString("ok:"), argCount, metaCount)
			return nil
		})
	},
}

var sweepMissingCmd = &cobra.Command{
	Use:   "missing",
	Short: "Delete videos whose file no longer exists",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOperations(func(ctx context.Context, ops *maintenance.Operations) error {
			deleted, err := ops.DeleteMissingPaths(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s %d videos deleted\n", color.GreenString("ok:"), deleted)
			return nil
		})
	},
}

func init() {
	resetCmd.AddCommand(resetFailedCmd)
	resetCmd.AddCommand(resetInvalidAudioCmd)
	resetCmd.AddCommand(sweepMissingCmd)
	rootCmd.AddCommand(resetCmd)
}

// withOperations opens the store, runs one maintenance function, and
// closes it again. The pipelines are not started; a running server
// picks up reset videos on its next poll.
func withOperations(fn func(context.Context, *maintenance.Operations) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.New(cfg.Database, slog.Default(), nil)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer db.Close()

	ops := maintenance.NewOperations(
		db,
		repository.NewVideoRepository(db.DB),
		repository.NewVmafRepository(db.DB),
		slog.Default(),
		nil,
	)
	return fn(context.Background(), ops)
}
