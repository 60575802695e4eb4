package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/hahplan/internal/store"
)

var (
	keepLast      int
	olderThanDays int
	forceClean    bool
)

var solutionsCmd = &cobra.Command{
	Use:   "solutions",
	Short: "Manage stored solutions",
	Long:  `List, show and clean solutions saved by solve and serve.`,
}

var listSolutionsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored solutions",
	Long:  `Display all solutions with id, creation time, scenario, status, total cost and size on disk.`,
	RunE:  runListSolutions,
}

var showSolutionCmd = &cobra.Command{
	Use:   "show <solution-id>",
	Short: "Print a stored solution as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowSolution,
}

var cleanSolutionsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old solutions",
	Long: `Delete old solutions based on retention policy.
You can keep only the newest N solutions or delete solutions older than N days.`,
	RunE: runCleanSolutions,
}

func init() {
	rootCmd.AddCommand(solutionsCmd)

	solutionsCmd.AddCommand(listSolutionsCmd)
	solutionsCmd.AddCommand(showSolutionCmd)
	solutionsCmd.AddCommand(cleanSolutionsCmd)

	solutionsCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "Base directory for solution storage")

	cleanSolutionsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the newest N solutions (0 = keep all)")
	cleanSolutionsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete solutions older than N days (0 = no age limit)")
	cleanSolutionsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func runListSolutions(cmd *cobra.Command, args []string) error {
	st, err := store.NewFSStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to create solution store: %w", err)
	}

	infos, err := st.ListRecords()
	if err != nil {
		return fmt.Errorf("failed to list solutions: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No solutions found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tSCENARIO\tPATIENTS\tBEDS\tROUTING\tSTATUS\tTOTAL COST\tSIZE")
	fmt.Fprintln(w, "--\t-------\t--------\t--------\t----\t-------\t------\t----------\t----")

	for _, info := range infos {
		size, err := getDirSize(filepath.Join(st.BaseDir(), "solutions", info.ID))
		sizeStr := "unknown"
		if err == nil {
			sizeStr = formatBytes(size)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%.2f\t%s\n",
			shortID(info.ID),
			info.CreatedAt.Format("2006-01-02 15:04:05"),
			info.Scenario,
			info.Patients,
			info.Beds,
			info.Routing,
			info.Status,
			info.TotalCost,
			sizeStr,
		)
	}

	w.Flush()

	fmt.Printf("\nTotal solutions: %d\n", len(infos))
	return nil
}

func runShowSolution(cmd *cobra.Command, args []string) error {
	st, err := store.NewFSStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to create solution store: %w", err)
	}
	record, err := st.LoadRecord(args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(record)
}

func runCleanSolutions(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	st, err := store.NewFSStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to create solution store: %w", err)
	}

	infos, err := st.ListRecords()
	if err != nil {
		return fmt.Errorf("failed to list solutions: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No solutions to clean.")
		return nil
	}

	toDelete := selectRecordsForDeletion(infos, keepLast, olderThanDays, time.Now())

	if len(toDelete) == 0 {
		fmt.Println("No solutions match deletion criteria.")
		return nil
	}

	fmt.Printf("Found %d solution(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Printf("  - %s (%s, %.2f, %s)\n",
			shortID(info.ID),
			info.Scenario,
			info.TotalCost,
			info.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}

	// Ask for confirmation unless --force is set
	if !forceClean {
		fmt.Print("\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, info := range toDelete {
		if err := st.DeleteRecord(info.ID); err != nil {
			slog.Error("Failed to delete solution", "id", info.ID, "error", err)
			failed++
		} else {
			slog.Info("Deleted solution", "id", info.ID)
			deleted++
		}
	}

	fmt.Printf("\nDeleted %d solution(s), %d failed.\n", deleted, failed)
	return nil
}

// selectRecordsForDeletion applies the retention policy: everything older
// than olderThanDays, plus everything beyond the newest keepLast. The result
// is oldest first and has no duplicates.
func selectRecordsForDeletion(infos []store.RecordInfo, keepLast int, olderThanDays int, now time.Time) []store.RecordInfo {
	sorted := make([]store.RecordInfo, len(infos))
	copy(sorted, infos)
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].CreatedAt.After(sorted[b].CreatedAt)
	})

	cutoff := now.AddDate(0, 0, -olderThanDays)
	var toDelete []store.RecordInfo
	for n, info := range sorted {
		expired := olderThanDays > 0 && info.CreatedAt.Before(cutoff)
		surplus := keepLast > 0 && n >= keepLast
		if expired || surplus {
			toDelete = append(toDelete, info)
		}
	}

	for a, b := 0, len(toDelete)-1; a < b; a, b = a+1, b-1 {
		toDelete[a], toDelete[b] = toDelete[b], toDelete[a]
	}
	return toDelete
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

// getDirSize calculates the total size of a directory
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
