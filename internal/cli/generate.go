package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"fieldvisit/internal/scheduler"
)

// GenerateDailyCmd 手动执行一次每日排程生成
func GenerateDailyCmd() *cobra.Command {
	var hierarchies []string

	cmd := &cobra.Command{
		Use:   "generate-daily",
		Short: "Ensure today's schedules exist for the given hierarchies",
		Long: `Runs daily schedule generation once. Without --hierarchy the
configured SCHEDULER_HIERARCHIES are used, or every hierarchy when that is empty.
Generation is idempotent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			job := scheduler.NewDailyJob(app.Schedules, app.Hierarchy, app.Config.Schedule.Hierarchies,
				app.Config.Schedule.Interval, app.Logger)
			if err := job.RunOnce(cmd.Context(), hierarchies...); err != nil {
				return fmt.Errorf("generation finished with errors: %w", err)
			}
			fmt.Println("Daily schedules generated")
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&hierarchies, "hierarchy", nil, "hierarchy name (repeatable)")
	return cmd
}
