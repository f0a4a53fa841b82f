package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"kubeheal-backend/internal/bus"
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	var natsURL string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream anomaly events and remediation records from NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if natsURL == "" {
				natsURL = root.v.GetString("nats_url")
			}
			if natsURL == "" {
				natsURL = "nats://localhost:4222"
			}
			sub, err := bus.NewSubscriber(natsURL)
			if err != nil {
				return fmt.Errorf("connect nats: %w", err)
			}
			defer sub.Close()
			out := cmd.OutOrStdout()
			msgs := make(chan bus.Message, 64)
			if _, err := sub.Subscribe(func(m bus.Message) {
				select {
				case msgs <- m:
				default:
					fmt.Fprintf(cmd.ErrOrStderr(), "dropping %s: output is behind\n", m.Subject)
				}
			}); err != nil {
				return err
			}
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case m := <-msgs:
					printMessage(out, m)
				}
			}
		},
	}
	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL (default $KUBEHEAL_NATS_URL)")
	return cmd
}

func printMessage(w io.Writer, m bus.Message) {
	switch {
	case m.Err != nil:
		fmt.Fprintf(w, "%s  undecodable message: %v\n", m.Subject, m.Err)
	case m.Anomaly != nil:
		a := m.Anomaly.Anomaly
		fmt.Fprintf(w, "%s  %-13s %-8s %-18s %s  %s\n",
			m.Anomaly.At.Local().Format(time.TimeOnly), m.Anomaly.Type, a.Severity, a.Kind, a.ResourceKey, a.Description)
	case m.Record != nil:
		r := m.Record
		fmt.Fprintf(w, "%s  remediation   %-8s %-18s %s  %s: %s\n",
			r.CompletedAt.Local().Format(time.TimeOnly), r.Outcome, r.ActionID, r.ResourceKey, r.AnomalyID, r.Detail)
	}
}
