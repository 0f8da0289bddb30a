package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/psdmads/internal/config"
	"github.com/cwbudde/psdmads/internal/point"
	"github.com/cwbudde/psdmads/internal/store"
)

func testCheckpoint(runID string) *store.Checkpoint {
	cfg := config.Default()
	cfg.Dimension = 3
	points := []point.Point{point.NewEvaluated([]float64{1, 2, 3}, 14, 0)}
	frame := []float64{0.5, 0.5, 0.5}
	return store.NewCheckpoint(runID, 10, 250, points, frame, []float64{1, 1, 1}, nil, cfg)
}

func outputCommand() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	return cmd, &buf
}

func TestSelectCheckpointsForDeletion_ByAge(t *testing.T) {
	now := time.Now()
	infos := []store.CheckpointInfo{
		{RunID: "job1", Timestamp: now.AddDate(0, 0, -10)}, // 10 days old
		{RunID: "job2", Timestamp: now.AddDate(0, 0, -5)},  // 5 days old
		{RunID: "job3", Timestamp: now.AddDate(0, 0, -1)},  // 1 day old
		{RunID: "job4", Timestamp: now.AddDate(0, 0, -30)}, // 30 days old
	}

	// Delete checkpoints older than 7 days
	toDelete := selectCheckpointsForDeletion(infos, 0, 7)

	if len(toDelete) != 2 {
		t.Errorf("Expected 2 checkpoints to delete, got %d", len(toDelete))
	}

	// Verify correct checkpoints selected
	found10 := false
	found30 := false
	for _, info := range toDelete {
		if info.RunID == "job1" {
			found10 = true
		}
		if info.RunID == "job4" {
			found30 = true
		}
	}

	if !found10 || !found30 {
		t.Error("Expected job1 and job4 to be selected for deletion")
	}
}

func TestSelectCheckpointsForDeletion_ByCount(t *testing.T) {
	now := time.Now()
	infos := []store.CheckpointInfo{
		{RunID: "job1", Timestamp: now.AddDate(0, 0, -10)},
		{RunID: "job2", Timestamp: now.AddDate(0, 0, -5)},
		{RunID: "job3", Timestamp: now.AddDate(0, 0, -1)},
		{RunID: "job4", Timestamp: now.AddDate(0, 0, -30)},
	}

	// Keep only last 2 checkpoints
	toDelete := selectCheckpointsForDeletion(infos, 2, 0)

	if len(toDelete) != 2 {
		t.Errorf("Expected 2 checkpoints to delete, got %d", len(toDelete))
	}

	// Should delete oldest two (job4 and job1)
	found30 := false
	found10 := false
	for _, info := range toDelete {
		if info.RunID == "job4" {
			found30 = true
		}
		if info.RunID == "job1" {
			found10 = true
		}
	}

	if !found30 || !found10 {
		t.Error("Expected job4 and job1 to be selected for deletion (oldest)")
	}
}

func TestSelectCheckpointsForDeletion_Combined(t *testing.T) {
	now := time.Now()
	infos := []store.CheckpointInfo{
		{RunID: "job1", Timestamp: now.AddDate(0, 0, -10)},
		{RunID: "job2", Timestamp: now.AddDate(0, 0, -5)},
		{RunID: "job3", Timestamp: now.AddDate(0, 0, -1)},
		{RunID: "job4", Timestamp: now.AddDate(0, 0, -30)},
		{RunID: "job5", Timestamp: now.AddDate(0, 0, -2)},
	}

	// Delete older than 7 days AND keep only last 3
	toDelete := selectCheckpointsForDeletion(infos, 3, 7)

	// Should delete job4 (30 days old) and job1 (10 days old) due to age
	// Should also delete 2 oldest to keep only 3: job4 and job1 are already in list
	// So total should be job4 and job1
	if len(toDelete) < 2 {
		t.Errorf("Expected at least 2 checkpoints to delete, got %d", len(toDelete))
	}
}

func TestGetDirSize(t *testing.T) {
	// Create temp directory with files
	tmpDir := t.TempDir()

	// Create a file
	testFile := filepath.Join(tmpDir, "test.txt")
	content := []byte("Hello, World!")
	if err := os.WriteFile(testFile, content, 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	// Get size
	size, err := getDirSize(tmpDir)
	if err != nil {
		t.Fatalf("getDirSize failed: %v", err)
	}

	if size < int64(len(content)) {
		t.Errorf("Expected size >= %d, got %d", len(content), size)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}

	for _, tt := range tests {
		result := formatBytes(tt.bytes)
		if result != tt.expected {
			t.Errorf("formatBytes(%d) = %s, expected %s", tt.bytes, result, tt.expected)
		}
	}
}

func TestCheckpointsListCommand_NoCheckpoints(t *testing.T) {
	// Create temp directory for checkpoints
	tmpDir := t.TempDir()

	// Set data dir
	originalDataDir := checkpointDataDir
	checkpointDataDir = tmpDir
	defer func() { checkpointDataDir = originalDataDir }()

	cmd, out := outputCommand()
	err := runListCheckpoints(cmd, nil)
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if !strings.Contains(out.String(), "No checkpoints found.") {
		t.Errorf("Unexpected output: %q", out.String())
	}
}

func TestCheckpointsListCommand_WithCheckpoints(t *testing.T) {
	// Create temp directory for checkpoints
	tmpDir := t.TempDir()

	// Create store and add checkpoint
	checkpointStore, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	checkpoint := testCheckpoint("test-run-id")

	err = checkpointStore.SaveCheckpoint("test-run-id", checkpoint)
	if err != nil {
		t.Fatalf("Failed to save checkpoint: %v", err)
	}

	// Set data dir
	originalDataDir := checkpointDataDir
	checkpointDataDir = tmpDir
	defer func() { checkpointDataDir = originalDataDir }()

	cmd, out := outputCommand()
	err = runListCheckpoints(cmd, nil)
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	for _, want := range []string{"test-run-id", "sphere/3", "250", "Total checkpoints: 1"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Output should contain %q:\n%s", want, out.String())
		}
	}
}

func TestCheckpointsCleanCommand_NoFlags(t *testing.T) {
	tmpDir := t.TempDir()

	originalDataDir := checkpointDataDir
	checkpointDataDir = tmpDir
	defer func() { checkpointDataDir = originalDataDir }()

	// Reset flags
	keepLast = 0
	olderThanDays = 0

	cmd, _ := outputCommand()
	err := runCleanCheckpoints(cmd, nil)
	if err == nil {
		t.Error("Expected error when no flags specified")
	}
}

func TestCheckpointsCleanCommand_WithForce(t *testing.T) {
	tmpDir := t.TempDir()

	// Create store and add old checkpoint
	checkpointStore, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	checkpoint := testCheckpoint("old-run")

	// Manually set timestamp to be old
	checkpoint.Timestamp = time.Now().AddDate(0, 0, -30)

	err = checkpointStore.SaveCheckpoint("old-run", checkpoint)
	if err != nil {
		t.Fatalf("Failed to save checkpoint: %v", err)
	}

	originalDataDir := checkpointDataDir
	checkpointDataDir = tmpDir
	defer func() { checkpointDataDir = originalDataDir }()

	// Set flags
	keepLast = 0
	olderThanDays = 7
	forceClean = true

	cmd, out := outputCommand()
	err = runCleanCheckpoints(cmd, nil)
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if !strings.Contains(out.String(), "Deleted 1 checkpoint(s), 0 failed.") {
		t.Errorf("Unexpected output: %q", out.String())
	}

	// Verify checkpoint was deleted
	_, err = checkpointStore.LoadCheckpoint("old-run")
	if err == nil {
		t.Error("Expected checkpoint to be deleted")
	}
}

func TestCheckpointsCleanCommand_Aborted(t *testing.T) {
	tmpDir := t.TempDir()
	checkpointStore, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	checkpoint := testCheckpoint("kept-run")
	checkpoint.Timestamp = time.Now().AddDate(0, 0, -30)
	if err := checkpointStore.SaveCheckpoint("kept-run", checkpoint); err != nil {
		t.Fatalf("Failed to save checkpoint: %v", err)
	}

	originalDataDir := checkpointDataDir
	checkpointDataDir = tmpDir
	defer func() { checkpointDataDir = originalDataDir }()

	keepLast = 0
	olderThanDays = 7
	forceClean = false

	cmd, out := outputCommand()
	cmd.SetIn(strings.NewReader("n\n"))
	if err := runCleanCheckpoints(cmd, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(out.String(), "Aborted.") {
		t.Errorf("Expected abort, got %q", out.String())
	}
	if _, err := checkpointStore.LoadCheckpoint("kept-run"); err != nil {
		t.Errorf("Checkpoint should be kept: %v", err)
	}
}

func TestCheckpointsShowCommand(t *testing.T) {
	tmpDir := t.TempDir()
	checkpointStore, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := checkpointStore.SaveCheckpoint("shown-run", testCheckpoint("shown-run")); err != nil {
		t.Fatalf("Failed to save checkpoint: %v", err)
	}

	originalDataDir := checkpointDataDir
	checkpointDataDir = tmpDir
	defer func() {
		checkpointDataDir = originalDataDir
		showPoints = false
	}()

	showPoints = false
	cmd, out := outputCommand()
	if err := runShowCheckpoint(cmd, []string{"shown-run"}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	for _, want := range []string{"sphere (dimension 3)", "Iteration:   10", "Best f:      14"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Output should contain %q:\n%s", want, out.String())
		}
	}

	showPoints = true
	cmd, out = outputCommand()
	if err := runShowCheckpoint(cmd, []string{"shown-run"}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	points, err := point.ReadPoints(strings.NewReader(out.String()), 3)
	if err != nil {
		t.Fatalf("Point output should parse: %v", err)
	}
	if len(points) != 1 || points[0].X[2] != 3 {
		t.Errorf("Unexpected points %+v", points)
	}

	if err := runShowCheckpoint(cmd, []string{"missing"}); err == nil {
		t.Error("Expected error for missing checkpoint")
	}
}
