package main

import (
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"kubeheal-backend/internal/apiclient"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Remediation history",
	}
	cmd.AddCommand(newHistoryExportCmd(root))
	return cmd
}

func newHistoryExportCmd(root *rootOptions) *cobra.Command {
	var severity, date, search, anomalyID, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export remediation records as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			for key, value := range map[string]string{
				"severity":  severity,
				"date":      date,
				"search":    search,
				"anomalyId": anomalyID,
			} {
				if value != "" {
					q.Set(key, value)
				}
			}
			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := apiclient.New(root.serverURL()).ExportRemediations(cmd.Context(), q, w); err != nil {
				return fmt.Errorf("export: %w", err)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&severity, "severity", "", "only this severity (low, medium, high, critical)")
	flags.StringVar(&date, "date", "", "only this UTC day (YYYY-MM-DD)")
	flags.StringVar(&search, "search", "", "case-insensitive text search")
	flags.StringVar(&anomalyID, "anomaly-id", "", "only records of this anomaly")
	flags.StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}
