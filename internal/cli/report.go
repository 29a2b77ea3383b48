package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"fieldvisit/internal/domain"
	httpapi "fieldvisit/internal/http"
	"fieldvisit/internal/service"
)

// ReportCmd 生成区间报表，输出 JSON 或 xlsx
func ReportCmd() *cobra.Command {
	var (
		start, end string
		status     string
		out        string
		filters    service.ReportFilters
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Build a visit report for a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := time.Parse("2006-01-02", start)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			to := from
			if end != "" {
				if to, err = time.Parse("2006-01-02", end); err != nil {
					return fmt.Errorf("invalid --end: %w", err)
				}
			}
			filters.Status = domain.VisitStatus(status)

			app, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			resp, err := app.Reports.GetReport(cmd.Context(), service.ReportRequest{Start: from, End: to, Filters: filters})
			if err != nil {
				return err
			}
			if out == "" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			data, err := httpapi.GenerateReportExport(resp)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Printf("Report written to %s (%d dealers)\n", out, len(resp.Data))
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "start date YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "end date YYYY-MM-DD (default: start)")
	cmd.Flags().StringVar(&status, "status", "", "pending or done")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write xlsx to this file instead of JSON to stdout")
	cmd.Flags().StringSliceVar(&filters.Zones, "zone", nil, "zone filter")
	cmd.Flags().StringSliceVar(&filters.Districts, "district", nil, "district filter")
	cmd.Flags().StringSliceVar(&filters.Talukas, "taluka", nil, "taluka filter")
	cmd.Flags().StringSliceVar(&filters.Towns, "town", nil, "town filter")
	cmd.Flags().StringSliceVar(&filters.DealerCodes, "dealer", nil, "dealer code filter")
	cmd.Flags().StringSliceVar(&filters.EmployeeCodes, "employee", nil, "employee code filter")
	cmd.Flags().StringSliceVar(&filters.RouteIDs, "route", nil, "route plan id filter")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}
