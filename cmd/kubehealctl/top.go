package main

import (
	"time"

	"github.com/spf13/cobra"

	"kubeheal-backend/internal/apiclient"
	"kubeheal-backend/internal/tui"
)

func newTopCmd(root *rootOptions) *cobra.Command {
	var (
		interval time.Duration
		status   string
	)
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Live table of anomalies with one-key remediation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return tui.Run(cmd.Context(), apiclient.New(root.serverURL()), interval, status)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "refresh interval")
	cmd.Flags().StringVar(&status, "status", "open", "anomalies to show: open, all or a single status")
	return cmd
}
