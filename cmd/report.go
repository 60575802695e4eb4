package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/hahplan/internal/model"
	"github.com/cwbudde/hahplan/internal/store"
)

var showTrace bool

var reportCmd = &cobra.Command{
	Use:   "report <solution-id>",
	Short: "Print a stored solution",
	Long: `Prints the cost breakdown, the patients treated at home and the daily
delivery plan of a stored solution.`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Base directory for solution storage")
	reportCmd.Flags().BoolVar(&showTrace, "trace", false, "Also print the incumbent trace")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	st, err := store.NewFSStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to create solution store: %w", err)
	}
	record, err := st.LoadRecord(args[0])
	if err != nil {
		return err
	}
	writeReport(os.Stdout, record)

	if showTrace {
		entries, err := st.LoadTrace(args[0])
		if err != nil {
			return err
		}
		writeTrace(os.Stdout, entries)
	}
	return nil
}

// dailyPlan sums per-depot routing variables by day.
type dailyPlan struct {
	deliveries float64
	vehicles   float64
	cost       float64
}

func planByDay(rec *store.Record) []dailyPlan {
	days := make([]dailyPlan, rec.Scenario.Horizon)
	add := func(group string, field func(*dailyPlan) *float64) {
		for k, v := range rec.Variables[group] {
			idx, err := model.ParseKey(k)
			if err != nil || len(idx) != 2 || idx[1] < 0 || idx[1] >= len(days) {
				continue
			}
			*field(&days[idx[1]]) += v
		}
	}
	add(model.GroupDeliveryCount, func(d *dailyPlan) *float64 { return &d.deliveries })
	add(model.GroupVehicleCount, func(d *dailyPlan) *float64 { return &d.vehicles })
	add(model.GroupRoutingCost, func(d *dailyPlan) *float64 { return &d.cost })
	return days
}

func homePatients(rec *store.Record) []int {
	var ids []int
	for k, v := range rec.Variables[model.GroupSelect] {
		if v < 0.5 {
			continue
		}
		if idx, err := model.ParseKey(k); err == nil {
			ids = append(ids, idx[0])
		}
	}
	sort.Ints(ids)
	return ids
}

func writeReport(out io.Writer, rec *store.Record) {
	sc := rec.Scenario
	fmt.Fprintf(out, "Solution %s\n", rec.ID)
	fmt.Fprintf(out, "Scenario: %s (%d patients, %d beds, %d depots, %d bundles, %d days)\n",
		sc.Name, sc.Patients, sc.Beds, sc.Depots, sc.Bundles, sc.Horizon)
	fmt.Fprintf(out, "Solver:   %s, %s routing", rec.Config.Solver, rec.Config.Routing)
	if rec.Config.RelaxSqrt {
		fmt.Fprint(out, " (relaxed sqrt)")
	}
	fmt.Fprintf(out, ", %s in %.2fs\n\n", rec.Status, rec.RuntimeSeconds)

	fmt.Fprintf(out, "Total cost: $%.2f\n\n", rec.TotalCost)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "CATEGORY\tCOST\tSHARE\t")
	for _, name := range model.CostCategories {
		cost := rec.CostBreakdown[name]
		share := 0.0
		if rec.TotalCost > 0 {
			share = 100 * cost / rec.TotalCost
		}
		fmt.Fprintf(w, "%s\t%.2f\t%.1f%%\t\n", name, cost, share)
	}
	w.Flush()

	home := homePatients(rec)
	ids := make([]string, len(home))
	for n, i := range home {
		ids[n] = fmt.Sprint(i)
	}
	fmt.Fprintf(out, "\nHome patients (%d of %d): %s\n", len(home), sc.Patients, strings.Join(ids, ", "))
	fmt.Fprintf(out, "Hospital beds used: %d of %d\n\n", sc.Patients-len(home), sc.Beds)

	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "DAY\tDELIVERIES\tVEHICLES\tROUTING COST\t")
	for t, d := range planByDay(rec) {
		fmt.Fprintf(w, "%d\t%.0f\t%.0f\t%.2f\t\n", t, d.deliveries, d.vehicles, d.cost)
	}
	w.Flush()
}

func writeTrace(out io.Writer, entries []store.TraceEntry) {
	fmt.Fprintf(out, "\nIncumbents (%d):\n", len(entries))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "#\tOBJECTIVE\tNODES\tELAPSED\t")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%.2f\t%d\t%.2fs\t\n", e.Sequence, e.Objective, e.Nodes, e.ElapsedSeconds)
	}
	w.Flush()
}
