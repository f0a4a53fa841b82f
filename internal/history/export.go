package history

import (
	"encoding/csv"
	"io"
	"time"
)

var csvHeader = []string{"ID", "Anomaly ID", "Action", "Resource", "Kind", "Severity", "Requested At", "Completed At", "Outcome", "Detail"}

// WriteCSV writes records in the order given, one row each after a header.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			rec.ID,
			rec.AnomalyID,
			rec.ActionID,
			rec.ResourceKey,
			string(rec.Kind),
			rec.Severity.String(),
			rec.RequestedAt.UTC().Format(time.RFC3339),
			rec.CompletedAt.UTC().Format(time.RFC3339),
			string(rec.Outcome),
			rec.Detail,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
