package telemetry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	colTimestamp    = "Timestamp"
	colPodName      = "Pod Name"
	colNamespace    = "Namespace"
	colCPU          = "CPU Usage (%)"
	colMemory       = "Memory Usage (%)"
	colNetwork      = "Network Traffic (B/s)"
	colPodStatus    = "Pod Status"
	colPodReason    = "Pod Reason"
	colRestarts     = "Pod Restarts"
	colErrorMessage = "Error Message"
	colEventReason  = "Latest Event Reason"
	colEventType    = "Pod Event Type"
	colEventMessage = "Pod Event Message"
	colNodeName     = "Node Name"

	defaultNamespace = "default"
)

var requiredColumns = []string{colTimestamp, colPodName, colCPU, colMemory, colPodStatus}

// RowError describes a CSV row that could not be turned into a Sample.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// ReadCSV parses the tabular telemetry export. Rows that fail to parse are
// returned as RowErrors next to the good samples so callers can log and skip
// them; only a broken header is fatal.
func ReadCSV(r io.Reader) ([]Sample, []error, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF"))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, nil, fmt.Errorf("missing column %q", col)
		}
	}
	var (
		samples []Sample
		rowErrs []error
	)
	line := 1
	for {
		record, err := reader.Read()
		line++
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rowErrs = append(rowErrs, &RowError{Line: line, Err: err})
			continue
		}
		sample, err := parseRow(index, record)
		if err != nil {
			rowErrs = append(rowErrs, &RowError{Line: line, Err: err})
			continue
		}
		samples = append(samples, sample)
	}
	return samples, rowErrs, nil
}

func parseRow(index map[string]int, record []string) (Sample, error) {
	get := func(col string) string {
		i, ok := index[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	ts, ok := parseTime(get(colTimestamp))
	if !ok {
		return Sample{}, fmt.Errorf("%w: bad timestamp %q", ErrInvalidSample, get(colTimestamp))
	}
	cpu, err := parsePercent(get(colCPU))
	if err != nil {
		return Sample{}, fmt.Errorf("%w: cpu: %v", ErrInvalidSample, err)
	}
	mem, err := parsePercent(get(colMemory))
	if err != nil {
		return Sample{}, fmt.Errorf("%w: memory: %v", ErrInvalidSample, err)
	}
	network, err := parseOptionalFloat(get(colNetwork))
	if err != nil {
		return Sample{}, fmt.Errorf("%w: network: %v", ErrInvalidSample, err)
	}
	restarts, err := parseOptionalFloat(get(colRestarts))
	if err != nil {
		return Sample{}, fmt.Errorf("%w: restarts: %v", ErrInvalidSample, err)
	}
	ns := get(colNamespace)
	if ns == "" {
		ns = defaultNamespace
	}
	sample := Sample{
		PodName:            get(colPodName),
		Namespace:          ns,
		NodeName:           get(colNodeName),
		CPUPercent:         cpu,
		MemoryPercent:      mem,
		NetworkBytesPerSec: network,
		PodStatus:          ParsePodStatus(get(colPodStatus)),
		PodReason:          cleanText(get(colPodReason)),
		RestartCount:       int(restarts),
		ErrorMessage:       cleanText(get(colErrorMessage)),
		LatestEventReason:  cleanText(get(colEventReason)),
		EventType:          ParseEventType(get(colEventType)),
		EventMessage:       cleanText(get(colEventMessage)),
		Timestamp:          ts,
	}
	if err := sample.Validate(); err != nil {
		return Sample{}, err
	}
	return sample, nil
}

// GroupByTimestamp splits samples into per-timestamp batches in time order,
// the shape a fixture replay hands to the poller one cycle at a time.
func GroupByTimestamp(samples []Sample) [][]Sample {
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	var batches [][]Sample
	for i, s := range sorted {
		if i == 0 || !s.Timestamp.Equal(sorted[i-1].Timestamp) {
			batches = append(batches, nil)
		}
		batches[len(batches)-1] = append(batches[len(batches)-1], s)
	}
	return batches
}

// NewFileSource loads a CSV fixture and replays it one timestamp per Poll.
func NewFileSource(path string) (*BatchSource, []error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	samples, rowErrs, err := ReadCSV(f)
	if err != nil {
		return nil, nil, err
	}
	return NewBatchSource(GroupByTimestamp(samples)), rowErrs, nil
}

func parsePercent(value string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(value), "%"), 64)
}

func parseOptionalFloat(value string) (float64, error) {
	if cleanText(value) == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	if math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", value)
	}
	return v, nil
}

// cleanText drops the placeholders pandas exports write for empty cells.
func cleanText(value string) string {
	switch strings.ToLower(value) {
	case "nan", "none", "null", "n/a", "-":
		return ""
	}
	return value
}

func parseTime(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02 15:04:05.999999", s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
