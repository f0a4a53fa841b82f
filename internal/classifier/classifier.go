// Package classifier turns pod samples into anomaly candidates by evaluating
// threshold rules. It holds no state: the caller supplies the recent window.
package classifier

import (
	"fmt"
	"strings"

	"kubeheal-backend/internal/anomaly"
	"kubeheal-backend/internal/remediation"
	"kubeheal-backend/internal/telemetry"
)

const (
	reasonOOMKilled = "OOMKilled"
	reasonBackOff   = "BackOff"
)

// Classify applies the rules in precedence order and returns the first match.
// recent holds earlier samples for the same pod, oldest first.
func Classify(t Thresholds, s telemetry.Sample, recent []telemetry.Sample) (anomaly.Candidate, bool) {
	kind, sev, desc, ok := evaluate(t, s, recent)
	if !ok {
		return anomaly.Candidate{}, false
	}
	if detail := detailText(s); detail != "" {
		desc += ": " + detail
	}
	return anomaly.Candidate{
		ResourceKey:     s.ResourceKey(),
		Namespace:       s.Namespace,
		PodName:         s.PodName,
		NodeName:        s.NodeName,
		Kind:            kind,
		Severity:        sev,
		Description:     desc,
		SuggestedAction: remediation.PreferredAction(kind, sev),
		ObservedAt:      s.Timestamp,
	}, true
}

func evaluate(t Thresholds, s telemetry.Sample, recent []telemetry.Sample) (anomaly.Kind, anomaly.Severity, string, bool) {
	if s.PodStatus != telemetry.PodRunning && s.PodReason != "" {
		kind := anomaly.KindOther
		if strings.Contains(s.PodReason, "Crash") {
			kind = anomaly.KindCrashLoop
		}
		return kind, anomaly.SeverityHigh, fmt.Sprintf("pod %s is %s (%s)", s.PodName, s.PodStatus, s.PodReason), true
	}

	if s.LatestEventReason == reasonOOMKilled {
		return anomaly.KindOomRisk, anomaly.SeverityCritical, fmt.Sprintf("pod %s was OOMKilled at memory %.1f%%", s.PodName, s.MemoryPercent), true
	}

	if s.LatestEventReason == reasonBackOff {
		return anomaly.KindCrashLoop, anomaly.SeverityHigh, fmt.Sprintf("pod %s is in BackOff", s.PodName), true
	}
	restarts := RestartsInWindow(s, recent)
	if hit, observed, expr := EvaluateCondition(t.CrashLoopRestarts, restarts); hit {
		return anomaly.KindCrashLoop, anomaly.SeverityHigh, fmt.Sprintf("pod %s restarted %s times (limit %s)", s.PodName, observed, expr), true
	}

	if desc, hit := usage(s, t.CPUCritical, t.MemoryCritical); hit {
		return anomaly.KindResourceExhaustion, anomaly.SeverityCritical, desc, true
	}
	if desc, hit := usage(s, t.CPUWarning, t.MemoryWarning); hit {
		return anomaly.KindResourceExhaustion, anomaly.SeverityMedium, desc, true
	}

	if s.EventType == telemetry.EventWarning {
		reason := s.LatestEventReason
		if reason == "" {
			reason = "warning event"
		}
		return anomaly.KindOther, anomaly.SeverityLow, fmt.Sprintf("pod %s reported %s", s.PodName, reason), true
	}
	return "", 0, "", false
}

func usage(s telemetry.Sample, cpu, mem ConditionSpec) (string, bool) {
	if hit, observed, expr := EvaluateCondition(cpu, s.CPUPercent); hit {
		return fmt.Sprintf("pod %s cpu at %s%% (limit %s)", s.PodName, observed, expr), true
	}
	if hit, observed, expr := EvaluateCondition(mem, s.MemoryPercent); hit {
		return fmt.Sprintf("pod %s memory at %s%% (limit %s)", s.PodName, observed, expr), true
	}
	return "", false
}

// RestartsInWindow is the restart delta since the oldest sample in recent,
// or the raw counter when there is no history. A counter that went
// backwards (pod replaced) counts from zero.
func RestartsInWindow(s telemetry.Sample, recent []telemetry.Sample) int {
	if len(recent) == 0 {
		return s.RestartCount
	}
	delta := s.RestartCount - recent[0].RestartCount
	if delta < 0 {
		return s.RestartCount
	}
	return delta
}

func detailText(s telemetry.Sample) string {
	if s.ErrorMessage != "" {
		return s.ErrorMessage
	}
	return s.EventMessage
}
