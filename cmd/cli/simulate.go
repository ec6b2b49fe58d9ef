package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	simulateAutomation string
	simulateData       string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Dry-run an automation against sample data",
	Long:  `Evaluate the trigger, conditions and approval gate of an automation without executing actions or writing a log`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data := map[string]interface{}{}
		if simulateData != "" {
			if err := json.Unmarshal([]byte(simulateData), &data); err != nil {
				return fmt.Errorf("parse --data: %w", err)
			}
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			sim, err := a.debugger.Simulate(ctx, simulateAutomation, data)
			if err != nil {
				return err
			}
			return printJSON(sim)
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAutomation, "automation", "", "automation id")
	simulateCmd.Flags().StringVar(&simulateData, "data", "", "sample data as a JSON object")
	_ = simulateCmd.MarkFlagRequired("automation")
	rootCmd.AddCommand(simulateCmd)
}
