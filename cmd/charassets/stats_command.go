package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"charassets/domain"
	"charassets/report"
	"charassets/store"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var status string
	var xlsxPath string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-character scan stability",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.openRuntime(cmd.Context(), runtimeNeeds{readOnly: true})
			if err != nil {
				return err
			}
			defer rt.close()

			all, err := rt.scanStats.All()
			if err != nil {
				return fmt.Errorf("load scan stats: %w", err)
			}
			filtered := filterStats(all, status)

			if strings.TrimSpace(xlsxPath) != "" {
				failures, err := store.OpenFailureLedger(rt.cfg.FailureLedgerPath())
				if err != nil {
					return fmt.Errorf("open failure ledger: %w", err)
				}
				variants := make(map[string][]string, len(filtered))
				for id := range filtered {
					if v := rt.registry.Variants(id); len(v) > 0 {
						variants[id] = v
					}
				}
				in := report.Input{Stats: filtered, Variants: variants, Failures: failures.Snapshot()}
				if err := report.WriteScanReport(xlsxPath, in); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "report written: %s\n", xlsxPath)
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderStats(filtered))
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only show characters with this status (active, stable, npc)")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Write an xlsx report to this path instead of printing a table")
	return cmd
}

func filterStats(all map[string]domain.ScanStats, status string) map[string]domain.ScanStats {
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "" {
		return all
	}
	out := make(map[string]domain.ScanStats)
	for id, st := range all {
		if string(st.Status) == status {
			out[id] = st
		}
	}
	return out
}

func renderStats(stats map[string]domain.ScanStats) string {
	if len(stats) == 0 {
		return "no scan history"
	}
	ids := make([]string, 0, len(stats))
	for id := range stats {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		st := stats[id]
		last := "-"
		if t := st.LastScan(); !t.IsZero() {
			last = t.Local().Format(time.DateTime)
		}
		rows = append(rows, []string{
			id,
			string(st.Status),
			strconv.Itoa(st.LastVariantCount),
			strconv.Itoa(st.ConsistentCount),
			last,
		})
	}
	return renderTable(
		[]string{"Character", "Status", "Variants", "Consistent", "Last Scan"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}
