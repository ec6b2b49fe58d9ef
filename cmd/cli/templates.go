package cli

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var templatesCategory string

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List the automation template catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		catalog, err := loadCatalog(cfg)
		if err != nil {
			return err
		}
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"ID", "Name", "Category", "Trigger", "Action", "Risk", "Approval"})
		for _, t := range catalog.List(templatesCategory) {
			tw.AppendRow(table.Row{t.ID, t.Name, t.Category, t.TriggerType, t.ActionType, t.RiskLevel, t.RequiresApproval})
		}
		tw.Render()
		return nil
	},
}

func init() {
	templatesCmd.Flags().StringVar(&templatesCategory, "category", "", "only list templates in this category")
	rootCmd.AddCommand(templatesCmd)
}
