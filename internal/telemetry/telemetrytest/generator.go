// Package telemetrytest provides deterministic sample fixtures for tests.
package telemetrytest

import (
	"fmt"
	"math/rand"
	"time"

	"kubeheal-backend/internal/telemetry"
)

var Epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// Generator produces reproducible pseudo-random pod samples. Two generators
// with the same seed yield identical sequences.
type Generator struct {
	rnd      *rand.Rand
	pods     []string
	interval time.Duration
	cycle    int
}

func NewGenerator(seed int64, pods ...string) *Generator {
	if len(pods) == 0 {
		pods = []string{"api-7f", "worker-5f", "cart-6d"}
	}
	return &Generator{
		rnd:      rand.New(rand.NewSource(seed)),
		pods:     pods,
		interval: 30 * time.Second,
	}
}

// Next returns one batch covering every pod at the next timestamp.
func (g *Generator) Next() []telemetry.Sample {
	ts := Epoch.Add(time.Duration(g.cycle) * g.interval)
	g.cycle++
	out := make([]telemetry.Sample, 0, len(g.pods))
	for i, pod := range g.pods {
		s := Healthy(pod, ts)
		s.NodeName = fmt.Sprintf("node-%d", i%2)
		s.CPUPercent = 5 + g.rnd.Float64()*100
		s.MemoryPercent = 5 + g.rnd.Float64()*100
		s.NetworkBytesPerSec = g.rnd.Float64() * 1e6
		s.RestartCount = g.rnd.Intn(3)
		if g.rnd.Intn(10) == 0 {
			s.EventType = telemetry.EventWarning
			s.LatestEventReason = "Unhealthy"
		}
		out = append(out, s)
	}
	return out
}

func (g *Generator) Batches(n int) [][]telemetry.Sample {
	out := make([][]telemetry.Sample, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, g.Next())
	}
	return out
}

// Healthy returns a running pod sample that no rule matches.
func Healthy(pod string, ts time.Time) telemetry.Sample {
	return telemetry.Sample{
		PodName:       pod,
		Namespace:     "default",
		NodeName:      "node-0",
		CPUPercent:    20,
		MemoryPercent: 30,
		PodStatus:     telemetry.PodRunning,
		EventType:     telemetry.EventNormal,
		Timestamp:     ts,
	}
}
