package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/dashboard"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/fields"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/ranking"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/service"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/tickets"
)

func newMetricsCmd(opts *rootOptions) *cobra.Command {
	var start, end string

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Print the dashboard snapshot as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.cleanup()

			snap, err := a.svc.GetDashboardMetrics(cmd.Context(), dashboard.Filters{StartDate: start, EndDate: end})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), snap)
		},
	}
	addDateFlags(cmd, &start, &end)
	return cmd
}

func newRankingCmd(opts *rootOptions) *cobra.Command {
	var (
		filters ranking.Filters
		limit   int
		summary bool
	)

	cmd := &cobra.Command{
		Use:   "ranking",
		Short: "Print the technician ranking as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.cleanup()

			list, err := a.svc.GetTechnicianRanking(cmd.Context(), limit, filters)
			if err != nil {
				return err
			}
			if summary {
				return writeJSON(cmd.OutOrStdout(), ranking.Summarize(list))
			}
			return writeJSON(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of technicians")
	cmd.Flags().StringVar(&filters.Level, "level", "", "Only technicians of this service level (e.g. N2)")
	cmd.Flags().BoolVar(&summary, "summary", false, "Print aggregate statistics instead of the list")
	addDateFlags(cmd, &filters.StartDate, &filters.EndDate)
	return cmd
}

func newTicketsCmd(opts *rootOptions) *cobra.Command {
	var (
		filters tickets.Filters
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "tickets",
		Short: "Print the latest new tickets as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.cleanup()

			list, err := a.svc.GetNewTickets(cmd.Context(), limit, filters)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of tickets")
	cmd.Flags().StringVar(&filters.Priority, "priority", "", "GLPI priority code (1-6)")
	cmd.Flags().StringVar(&filters.Technician, "technician", "", "Assigned technician user id")
	addDateFlags(cmd, &filters.StartDate, &filters.EndDate)
	return cmd
}

// statusReport is the output of the status command.
type statusReport struct {
	service.SystemStatus
	Statuses map[string]bool `json:"statuses,omitempty"`
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var validate bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check the GLPI connection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.cleanup()

			report := statusReport{SystemStatus: a.svc.GetSystemStatus(cmd.Context())}
			if report.Status != service.Online {
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				return fmt.Errorf("GLPI is %s: %s", report.Status, report.Message)
			}

			var rejected []string
			if validate {
				codes, err := a.svc.ValidateStatuses(cmd.Context())
				if err != nil {
					return err
				}
				report.Statuses = make(map[string]bool, len(fields.Statuses))
				for _, s := range fields.Statuses {
					report.Statuses[s.Label] = codes[s.Code]
					if !codes[s.Code] {
						rejected = append(rejected, s.Label)
					}
				}
			}

			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if len(rejected) > 0 {
				return fmt.Errorf("GLPI rejected status filters: %s", strings.Join(rejected, ", "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&validate, "validate-statuses", false, "Also check that GLPI accepts every ticket status filter")
	return cmd
}

func addDateFlags(cmd *cobra.Command, start, end *string) {
	cmd.Flags().StringVar(start, "start", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(end, "end", "", "End date (YYYY-MM-DD)")
}
