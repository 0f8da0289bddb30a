package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/psdmads/internal/point"
	"github.com/cwbudde/psdmads/internal/store"
)

var (
	checkpointDataDir string
	keepLast          int
	olderThanDays     int
	forceClean        bool
	showPoints        bool
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Manage run checkpoints",
	Long: `Manage run checkpoints including listing and cleaning old checkpoints.
A checkpoint holds the barrier, the mesh and the iteration counter of a run,
which "psdmads resume" restarts from.`,
}

var listCheckpointsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all available checkpoints",
	Long:  `Display all checkpoints with metadata including run ID, timestamp, iteration, evaluations, best point and size on disk.`,
	RunE:  runListCheckpoints,
}

var cleanCheckpointsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old checkpoints",
	Long: `Delete old checkpoints based on retention policy.
You can keep only the N most recent runs or delete checkpoints older than N days.`,
	RunE: runCleanCheckpoints,
}

var showCheckpointCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show one checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowCheckpoint,
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)
	checkpointsCmd.AddCommand(listCheckpointsCmd, showCheckpointCmd, cleanCheckpointsCmd)

	checkpointsCmd.PersistentFlags().StringVar(&checkpointDataDir, "data-dir", "./data", "Base directory for checkpoint storage")

	showCheckpointCmd.Flags().BoolVar(&showPoints, "points", false, "Write the barrier points as a point file")

	cleanCheckpointsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the N most recent checkpoints (0 = keep all)")
	cleanCheckpointsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete checkpoints older than N days (0 = no age limit)")
	cleanCheckpointsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func runListCheckpoints(cmd *cobra.Command, args []string) error {
	checkpointStore, err := store.NewFSStore(checkpointDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	infos, err := checkpointStore.ListCheckpoints()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(infos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No checkpoints found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tTIMESTAMP\tPROBLEM\tITERATION\tEVALS\tBEST F\tBEST H\tSIZE")
	fmt.Fprintln(w, "------\t---------\t-------\t---------\t-----\t------\t------\t----")

	for _, info := range infos {
		size, err := getDirSize(checkpointStore.RunDir(info.RunID))
		sizeStr := "unknown"
		if err == nil {
			sizeStr = formatBytes(size)
		}

		fmt.Fprintf(w, "%s\t%s\t%s/%d\t%d\t%d\t%g\t%g\t%s\n",
			shortID(info.RunID),
			info.Timestamp.Format("2006-01-02 15:04:05"),
			info.Problem,
			info.Dimension,
			info.Iteration,
			info.NbEval,
			float64(info.BestF),
			float64(info.BestH),
			sizeStr,
		)
	}

	w.Flush()

	fmt.Fprintf(cmd.OutOrStdout(), "\nTotal checkpoints: %d\n", len(infos))
	return nil
}

func runCleanCheckpoints(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}
	out := cmd.OutOrStdout()

	checkpointStore, err := store.NewFSStore(checkpointDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}
	infos, err := checkpointStore.ListCheckpoints()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(infos) == 0 {
		fmt.Fprintln(out, "No checkpoints to clean.")
		return nil
	}

	toDelete := selectCheckpointsForDeletion(infos, keepLast, olderThanDays)
	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No checkpoints match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d checkpoint(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (%s/%d, iteration %d, %s)\n",
			shortID(info.RunID),
			info.Problem,
			info.Dimension,
			info.Iteration,
			info.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}

	if !forceClean {
		fmt.Fprint(out, "\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Fscanln(cmd.InOrStdin(), &response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	deleted, failed := 0, 0
	for _, info := range toDelete {
		if err := checkpointStore.DeleteCheckpoint(info.RunID); err != nil {
			slog.Error("Failed to delete checkpoint", "run_id", info.RunID, "error", err)
			failed++
			continue
		}
		slog.Info("Deleted checkpoint", "run_id", info.RunID)
		deleted++
	}

	fmt.Fprintf(out, "\nDeleted %d checkpoint(s), %d failed.\n", deleted, failed)
	return nil
}

// runShowCheckpoint prints one checkpoint, or with --points writes its
// barrier points as a point file usable by "run --x0-file".
func runShowCheckpoint(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	checkpointStore, err := store.NewFSStore(checkpointDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}
	cp, err := checkpointStore.LoadCheckpoint(args[0])
	if err != nil {
		return err
	}

	if showPoints {
		return point.WritePoints(out, cp.Points)
	}

	fmt.Fprintf(out, "Run:         %s\n", cp.RunID)
	fmt.Fprintf(out, "Saved:       %s\n", cp.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(out, "Problem:     %s (dimension %d)\n", cp.Config.Problem, cp.Config.Dimension)
	fmt.Fprintf(out, "Iteration:   %d\n", cp.Iteration)
	fmt.Fprintf(out, "Evaluations: %d of %d\n", cp.NbEval, cp.Config.MaxBBEval)
	fmt.Fprintf(out, "Barrier:     %d point(s)\n", len(cp.Points))
	fmt.Fprintf(out, "Frame sizes: %v\n", cp.FrameSizes)
	if len(cp.Reasons) > 0 {
		fmt.Fprintf(out, "Stopped by:  %s\n", strings.Join(cp.Reasons, ", "))
	}
	if best, ok := cp.Best(); ok {
		fmt.Fprintf(out, "Best f:      %g\n", best.F)
		fmt.Fprintf(out, "Best h:      %g\n", best.H)
		fmt.Fprintf(out, "Best x:      %v\n", best.X)
	}
	return nil
}

// selectCheckpointsForDeletion returns the checkpoints older than
// olderThanDays and, when keepLast > 0, every checkpoint beyond the keepLast
// most recent ones.
func selectCheckpointsForDeletion(infos []store.CheckpointInfo, keepLast int, olderThanDays int) []store.CheckpointInfo {
	var toDelete []store.CheckpointInfo
	selected := make(map[string]bool)

	if olderThanDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -olderThanDays)
		for _, info := range infos {
			if info.Timestamp.Before(cutoff) {
				toDelete = append(toDelete, info)
				selected[info.RunID] = true
			}
		}
	}

	if keepLast > 0 && len(infos) > keepLast {
		sorted := make([]store.CheckpointInfo, len(infos))
		copy(sorted, infos)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].Timestamp.After(sorted[j].Timestamp)
		})
		for _, info := range sorted[keepLast:] {
			if !selected[info.RunID] {
				toDelete = append(toDelete, info)
				selected[info.RunID] = true
			}
		}
	}

	return toDelete
}

// shortID truncates a run ID for display.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

// getDirSize sums the sizes of the regular files under path.
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
