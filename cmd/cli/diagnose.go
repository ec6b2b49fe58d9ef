package cli

import (
	"context"
	"fmt"
	"os"

	"autoflow/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	diagnoseAutomation string
	diagnoseJSON       bool
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Show the health report of an automation",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			report, err := a.debugger.Health(ctx, diagnoseAutomation)
			if err != nil {
				return err
			}
			if diagnoseJSON {
				return printJSON(report)
			}
			printReport(report)
			return nil
		})
	},
}

func init() {
	diagnoseCmd.Flags().StringVar(&diagnoseAutomation, "automation", "", "automation id")
	diagnoseCmd.Flags().BoolVar(&diagnoseJSON, "json", false, "print the report as JSON")
	_ = diagnoseCmd.MarkFlagRequired("automation")
	rootCmd.AddCommand(diagnoseCmd)
}

func printReport(report *models.IssueReport) {
	fmt.Printf("Automation %s  health %d/100  issues %d\n", report.AutomationID, report.HealthScore, report.TotalIssues)
	if report.TotalIssues == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Type", "Severity", "Code", "Message", "Remediation"})
	for _, issue := range report.Issues() {
		tw.AppendRow(table.Row{issue.IssueType, issue.Severity, issue.Code, issue.Message, issue.Remediation})
	}
	tw.Render()
}
