package remediation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"
)

const resourceBumpPercent = 50

var ErrNoDeployment = errors.New("no owning deployment found")

// KubeExecutor applies catalog actions through the Kubernetes API.
type KubeExecutor struct {
	client kubernetes.Interface
	logger *zap.Logger
}

func NewKubeExecutor(client kubernetes.Interface, logger *zap.Logger) *KubeExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KubeExecutor{client: client, logger: logger}
}

func (k *KubeExecutor) Execute(ctx context.Context, action Action, target Target) (string, error) {
	switch action.ID {
	case ActionRestartPod:
		return k.restartPod(ctx, target)
	case ActionIncreaseMemory:
		return k.bumpResources(ctx, target, corev1.ResourceMemory)
	case ActionIncreaseCPU:
		return k.bumpResources(ctx, target, corev1.ResourceCPU)
	case ActionScaleDeployment:
		return k.scaleDeployment(ctx, target)
	default:
		return "", fmt.Errorf("no kubernetes handler for action %q", action.ID)
	}
}

// restartPod deletes the pod so its controller recreates it. A pod that is
// already gone counts as restarted.
func (k *KubeExecutor) restartPod(ctx context.Context, target Target) (string, error) {
	err := k.client.CoreV1().Pods(target.Namespace).Delete(ctx, target.PodName, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		k.logger.Warn("pod already gone", zap.String("namespace", target.Namespace), zap.String("pod", target.PodName))
		return fmt.Sprintf("pod %s/%s not found, already deleted", target.Namespace, target.PodName), nil
	}
	if err != nil {
		return "", fmt.Errorf("delete pod %s/%s: %w", target.Namespace, target.PodName, err)
	}
	return fmt.Sprintf("restarted pod %s/%s", target.Namespace, target.PodName), nil
}

func (k *KubeExecutor) bumpResources(ctx context.Context, target Target, name corev1.ResourceName) (string, error) {
	deployment, err := k.owningDeployment(ctx, target)
	if err != nil {
		return "", err
	}
	changed := 0
	err = retry.RetryOnConflict(retry.DefaultRetry, func() error {
		d, err := k.client.AppsV1().Deployments(target.Namespace).Get(ctx, deployment, metav1.GetOptions{})
		if err != nil {
			return err
		}
		changed = 0
		containers := d.Spec.Template.Spec.Containers
		for i := range containers {
			res := &containers[i].Resources
			limit := bumpQuantity(res.Limits, name)
			request := bumpQuantity(res.Requests, name)
			if limit || request {
				changed++
			}
		}
		if changed == 0 {
			return nil
		}
		_, err = k.client.AppsV1().Deployments(target.Namespace).Update(ctx, d, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("update deployment %s/%s: %w", target.Namespace, deployment, err)
	}
	if changed == 0 {
		return "", fmt.Errorf("deployment %s/%s has no %s limits or requests to raise", target.Namespace, deployment, name)
	}
	return fmt.Sprintf("raised %s by %d%% on %d container(s) of deployment %s/%s", name, resourceBumpPercent, changed, target.Namespace, deployment), nil
}

func bumpQuantity(list corev1.ResourceList, name corev1.ResourceName) bool {
	q, ok := list[name]
	if !ok || q.IsZero() {
		return false
	}
	if name == corev1.ResourceCPU {
		list[name] = *resource.NewMilliQuantity(q.MilliValue()*(100+resourceBumpPercent)/100, q.Format)
	} else {
		list[name] = *resource.NewQuantity(q.Value()*(100+resourceBumpPercent)/100, q.Format)
	}
	return true
}

func (k *KubeExecutor) scaleDeployment(ctx context.Context, target Target) (string, error) {
	deployment, err := k.owningDeployment(ctx, target)
	if err != nil {
		return "", err
	}
	var from, to int32
	err = retry.RetryOnConflict(retry.DefaultRetry, func() error {
		d, err := k.client.AppsV1().Deployments(target.Namespace).Get(ctx, deployment, metav1.GetOptions{})
		if err != nil {
			return err
		}
		from = 1
		if d.Spec.Replicas != nil {
			from = *d.Spec.Replicas
		}
		to = from + 1
		d.Spec.Replicas = &to
		_, err = k.client.AppsV1().Deployments(target.Namespace).Update(ctx, d, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("scale deployment %s/%s: %w", target.Namespace, deployment, err)
	}
	return fmt.Sprintf("scaled deployment %s/%s from %d to %d replicas", target.Namespace, deployment, from, to), nil
}

// owningDeployment follows pod -> ReplicaSet -> Deployment owner references.
// When the pod is gone or unowned it falls back to stripping the generated
// suffixes from the pod name.
func (k *KubeExecutor) owningDeployment(ctx context.Context, target Target) (string, error) {
	pod, err := k.client.CoreV1().Pods(target.Namespace).Get(ctx, target.PodName, metav1.GetOptions{})
	if err == nil {
		if name, ok := k.deploymentFromOwners(ctx, target.Namespace, pod.OwnerReferences); ok {
			return name, nil
		}
	} else if !apierrors.IsNotFound(err) {
		return "", fmt.Errorf("get pod %s/%s: %w", target.Namespace, target.PodName, err)
	}
	for _, name := range deploymentNameGuesses(target.PodName) {
		_, err := k.client.AppsV1().Deployments(target.Namespace).Get(ctx, name, metav1.GetOptions{})
		if err == nil {
			return name, nil
		}
		if !apierrors.IsNotFound(err) {
			return "", fmt.Errorf("get deployment %s/%s: %w", target.Namespace, name, err)
		}
	}
	return "", fmt.Errorf("%w for pod %s/%s", ErrNoDeployment, target.Namespace, target.PodName)
}

func (k *KubeExecutor) deploymentFromOwners(ctx context.Context, namespace string, owners []metav1.OwnerReference) (string, bool) {
	for _, ref := range owners {
		switch ref.Kind {
		case "Deployment":
			return ref.Name, true
		case "ReplicaSet":
			rs, err := k.client.AppsV1().ReplicaSets(namespace).Get(ctx, ref.Name, metav1.GetOptions{})
			if err != nil {
				k.logger.Debug("replicaset lookup failed", zap.String("replicaset", ref.Name), zap.Error(err))
				continue
			}
			if name, ok := deploymentOwner(rs); ok {
				return name, true
			}
		}
	}
	return "", false
}

func deploymentOwner(rs *appsv1.ReplicaSet) (string, bool) {
	for _, ref := range rs.OwnerReferences {
		if ref.Kind == "Deployment" {
			return ref.Name, true
		}
	}
	return "", false
}

// deploymentNameGuesses returns "api" and "api-7f9c" for pod "api-7f9c-x2k4p".
func deploymentNameGuesses(pod string) []string {
	parts := strings.Split(pod, "-")
	var out []string
	for strip := 2; strip >= 1; strip-- {
		if len(parts) > strip {
			out = append(out, strings.Join(parts[:len(parts)-strip], "-"))
		}
	}
	return out
}
