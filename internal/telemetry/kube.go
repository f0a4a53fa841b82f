package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsv1beta1 "k8s.io/metrics/pkg/apis/metrics/v1beta1"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"
)

// recentTermination bounds how long a container's last OOM kill keeps being
// reported after it happened.
const recentTermination = 10 * time.Minute

// KubeSource builds samples from the live cluster: pod objects for status and
// restarts, metrics.k8s.io for usage and core events for the latest reason.
type KubeSource struct {
	core      kubernetes.Interface
	metrics   metricsclient.Interface
	namespace string
	logger    *zap.Logger
	now       func() time.Time
}

func NewKubeSource(core kubernetes.Interface, metrics metricsclient.Interface, namespace string, logger *zap.Logger) *KubeSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KubeSource{core: core, metrics: metrics, namespace: namespace, logger: logger, now: time.Now}
}

// LoadRESTConfig prefers the in-cluster config and falls back to kubeconfig.
func LoadRESTConfig(kubeconfigPath, contextName string) (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	loadingRules := &clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfigPath}
	overrides := &clientcmd.ConfigOverrides{}
	if contextName != "" {
		overrides.CurrentContext = contextName
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
}

func (k *KubeSource) Poll(ctx context.Context) ([]Sample, error) {
	pods, err := k.core.CoreV1().Pods(k.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	usage := map[string]corev1.ResourceList{}
	if k.metrics != nil {
		// metrics-server is optional; without it usage stays at zero
		pms, err := k.metrics.MetricsV1beta1().PodMetricses(k.namespace).List(ctx, metav1.ListOptions{})
		if err != nil {
			k.logger.Debug("pod metrics unavailable", zap.Error(err))
			pms = &metricsv1beta1.PodMetricsList{}
		}
		for _, m := range pms.Items {
			usage[m.Namespace+"/"+m.Name] = sumContainerUsage(m.Containers)
		}
	}
	events := k.latestEvents(ctx)

	now := k.now().UTC()
	out := make([]Sample, 0, len(pods.Items))
	for _, p := range pods.Items {
		key := ResourceKey(p.Namespace, p.Name)
		cpuLimit, memLimit := podCapacity(p)
		var cpuPct, memPct float64
		if u, ok := usage[key]; ok {
			if q, ok := u[corev1.ResourceCPU]; ok && cpuLimit > 0 {
				cpuPct = float64(q.MilliValue()) / float64(cpuLimit) * 100
			}
			if q, ok := u[corev1.ResourceMemory]; ok && memLimit > 0 {
				memPct = float64(q.Value()) / float64(memLimit) * 100
			}
		}
		sample := Sample{
			PodName:       p.Name,
			Namespace:     p.Namespace,
			NodeName:      p.Spec.NodeName,
			CPUPercent:    cpuPct,
			MemoryPercent: memPct,
			PodStatus:     ParsePodStatus(string(p.Status.Phase)),
			PodReason:     podReason(p),
			RestartCount:  restartCount(p.Status.ContainerStatuses),
			EventType:     EventNormal,
			Timestamp:     now,
		}
		if ev, ok := events[key]; ok {
			sample.LatestEventReason = ev.Reason
			sample.EventType = ParseEventType(ev.Type)
			sample.EventMessage = ev.Message
		}
		if reason := recentTerminationReason(p.Status.ContainerStatuses, now.Add(-recentTermination)); reason == "OOMKilled" && sample.LatestEventReason == "" {
			sample.LatestEventReason = reason
		}
		out = append(out, sample)
	}
	return out, nil
}

func (k *KubeSource) latestEvents(ctx context.Context) map[string]corev1.Event {
	list, err := k.core.CoreV1().Events(k.namespace).List(ctx, metav1.ListOptions{
		FieldSelector: "involvedObject.kind=Pod",
	})
	out := map[string]corev1.Event{}
	if err != nil {
		k.logger.Warn("list pod events", zap.String("namespace", k.namespace), zap.Error(err))
		return out
	}
	for _, ev := range list.Items {
		key := ResourceKey(ev.InvolvedObject.Namespace, ev.InvolvedObject.Name)
		cur, ok := out[key]
		if !ok || eventTime(ev).After(eventTime(cur)) {
			out[key] = ev
		}
	}
	return out
}

func eventTime(ev corev1.Event) time.Time {
	if !ev.LastTimestamp.IsZero() {
		return ev.LastTimestamp.Time
	}
	if !ev.EventTime.IsZero() {
		return ev.EventTime.Time
	}
	return ev.CreationTimestamp.Time
}

func sumContainerUsage(containers []metricsv1beta1.ContainerMetrics) corev1.ResourceList {
	total := corev1.ResourceList{}
	for _, c := range containers {
		for res, q := range c.Usage {
			if cur, ok := total[res]; ok {
				cur.Add(q)
				total[res] = cur
			} else {
				total[res] = q.DeepCopy()
			}
		}
	}
	return total
}

// podCapacity sums limits, falling back to requests per container, so usage
// can be expressed as a percentage.
func podCapacity(p corev1.Pod) (cpuMilli int64, memBytes int64) {
	for _, c := range p.Spec.Containers {
		if q, ok := c.Resources.Limits[corev1.ResourceCPU]; ok {
			cpuMilli += q.MilliValue()
		} else if q, ok := c.Resources.Requests[corev1.ResourceCPU]; ok {
			cpuMilli += q.MilliValue()
		}
		if q, ok := c.Resources.Limits[corev1.ResourceMemory]; ok {
			memBytes += q.Value()
		} else if q, ok := c.Resources.Requests[corev1.ResourceMemory]; ok {
			memBytes += q.Value()
		}
	}
	return cpuMilli, memBytes
}

func podReason(p corev1.Pod) string {
	if p.Status.Reason != "" {
		return p.Status.Reason
	}
	for _, cs := range p.Status.ContainerStatuses {
		if cs.State.Waiting != nil && cs.State.Waiting.Reason != "" {
			return cs.State.Waiting.Reason
		}
	}
	return ""
}

func restartCount(statuses []corev1.ContainerStatus) int {
	total := 0
	for _, cs := range statuses {
		total += int(cs.RestartCount)
	}
	return total
}

// recentTerminationReason returns the reason of the first container whose last
// termination finished after since. Terminations without a finish time are
// ignored.
func recentTerminationReason(statuses []corev1.ContainerStatus, since time.Time) string {
	for _, cs := range statuses {
		term := cs.LastTerminationState.Terminated
		if term == nil || term.FinishedAt.IsZero() || term.FinishedAt.Time.Before(since) {
			continue
		}
		return term.Reason
	}
	return ""
}
