package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cwbudde/psdmads/internal/store"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [run-id]",
	Short: "Resume a run from its checkpoint",
	Long: `Restarts a run from the checkpoint saved under --data-dir. Parameters
come from the checkpoint and may be overridden by flags; the problem,
dimension and bounds must stay the same. Evaluations already spent count
against --max-eval.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	addSessionFlags(resumeCmd.Flags())
	addParamFlags(resumeCmd.Flags())
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	id := args[0]

	fsStore, err := store.NewFSStore(session.dataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}
	cp, err := fsStore.LoadCheckpoint(id)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	params := cp.Config
	applyParamFlags(cmd.Flags(), &params)

	_, err = execute(cmd.Context(), cmd.OutOrStdout(), params, id, cp, nil, session)
	return err
}
