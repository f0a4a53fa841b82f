package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"kubeheal-backend/internal/anomaly"
	"kubeheal-backend/internal/app"
	"kubeheal-backend/internal/config"
)

type replayOptions struct {
	thresholds    string
	actions       string
	autoRemediate bool
	historyFile   string
	status        string
	output        string
}

func newReplayCmd(root *rootOptions) *cobra.Command {
	opts := &replayOptions{}
	cmd := &cobra.Command{
		Use:   "replay <telemetry.csv>",
		Short: "Run a telemetry CSV through the detection pipeline offline",
		Long: `Replay feeds a telemetry CSV through classification and the anomaly
registry one timestamp at a time, then prints the resulting anomalies.
Remediations run in dry-run mode.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, root, opts, args[0])
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.thresholds, "thresholds", "", "classifier thresholds YAML")
	flags.StringVar(&opts.actions, "actions", "", "remediation action catalog YAML")
	flags.BoolVar(&opts.autoRemediate, "auto-remediate", false, "dry-run suggested non-destructive actions")
	flags.StringVar(&opts.historyFile, "history-file", "", "append remediation records to this JSON file")
	flags.StringVar(&opts.status, "status", "all", "anomalies to print: all, open, detected, investigating or resolved")
	flags.StringVarP(&opts.output, "output", "o", "table", "output format: table or json")
	return cmd
}

func runReplay(cmd *cobra.Command, root *rootOptions, opts *replayOptions, path string) error {
	logger, err := root.logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load(root.configFile)
	if err != nil {
		return err
	}
	cfg.Telemetry = config.TelemetryConfig{Source: config.TelemetryCSV, CSVPath: path}
	cfg.DryRun = true
	cfg.AutoRemediate = opts.autoRemediate
	cfg.History = config.HistoryConfig{Backend: config.HistoryMemory}
	if opts.historyFile != "" {
		cfg.History = config.HistoryConfig{Backend: config.HistoryFile, File: opts.historyFile}
	}
	if opts.thresholds != "" {
		cfg.ThresholdsFile = opts.thresholds
	}
	if opts.actions != "" {
		cfg.ActionsFile = opts.actions
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	pipeline, err := app.Build(ctx, cfg, app.Options{}, logger)
	if err != nil {
		return err
	}
	cycles, err := pipeline.Poller.Replay(ctx)
	if closeErr := pipeline.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	keep, err := statusFilter(opts.status)
	if err != nil {
		return err
	}
	list := pipeline.Registry.List(keep)
	out := cmd.OutOrStdout()
	switch opts.output {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	case "table":
		fmt.Fprintf(out, "replayed %d cycles, %d anomalies\n", cycles, len(list))
		return printAnomalies(out, list)
	}
	return fmt.Errorf("unknown output format %q", opts.output)
}

func statusFilter(status string) (func(anomaly.Anomaly) bool, error) {
	switch status {
	case "", "all":
		return nil, nil
	case "open":
		return func(a anomaly.Anomaly) bool { return a.Status.Open() }, nil
	}
	s, err := anomaly.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	return func(a anomaly.Anomaly) bool { return a.Status == s }, nil
}

var (
	headerCell = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell       = lipgloss.NewStyle().Padding(0, 1)
)

func printAnomalies(w io.Writer, list []anomaly.Anomaly) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("SEVERITY", "KIND", "RESOURCE", "STATUS", "ATTEMPTS", "FIRST SEEN", "LAST SEEN", "SUGGESTED", "RESOLUTION").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerCell
			}
			return cell
		})
	for _, a := range list {
		t.Row(
			a.Severity.String(),
			string(a.Kind),
			a.ResourceKey,
			string(a.Status),
			strconv.Itoa(a.Attempts),
			a.FirstObserved.UTC().Format("2006-01-02 15:04:05"),
			a.LastObserved.UTC().Format("2006-01-02 15:04:05"),
			a.SuggestedAction,
			a.Resolution,
		)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
