package kube

import (
	"context"
	"errors"
	"time"

	"github.com/openfroyo/deployconf/pkg/engine"
	"github.com/openfroyo/deployconf/pkg/manifest"
)

// Resource status values reported in a deploy result.
const (
	StatusApplied = "applied"
	StatusReady   = "ready"
	StatusFailed  = "failed"
)

// rolloutKinds are the kinds kubectl rollout status understands.
var rolloutKinds = map[string]bool{
	"Deployment":  true,
	"StatefulSet": true,
	"DaemonSet":   true,
}

// Deploy implements engine.Deployer. It applies the manifest and waits for
// every workload to roll out within timeout. A manifest the cluster rejects
// or a workload that does not become ready yields a result with Deployed
// false; connection problems are returned as transient errors.
func (k *Kubectl) Deploy(ctx context.Context, text string, timeout time.Duration) (*engine.DeployResult, error) {
	docs, err := manifest.Decode(text)
	if err != nil {
		return nil, engine.NewPermanentError("manifest cannot be decoded", err).WithCode(engine.ErrCodeDeployFailed)
	}

	deadline := time.Now().Add(timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	result := &engine.DeployResult{}
	applied, err := k.Apply(ctx, text)
	if err != nil {
		var ce *CommandError
		if errors.As(err, &ce) && ce.Rejected() {
			result.ErrorDetail = ce.Error()
			k.logger.Warn().Err(err).Msg("Cluster rejected the manifest")
			return result, nil
		}
		return nil, engine.NewTransientError("kubectl apply failed", err).WithOperation("deploy")
	}
	k.logger.Info().Strs("objects", applied).Msg("Manifest applied")

	result.Deployed = true
	for _, doc := range docs {
		status := engine.ResourceStatus{
			Kind:      manifest.Kind(doc),
			Name:      manifest.Name(doc),
			Namespace: namespaceOf(doc, k.cfg.Namespace),
			Status:    StatusApplied,
		}

		if rolloutKinds[status.Kind] {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				status.Status = StatusFailed
				status.Message = "deploy timeout reached before rollout check"
			} else if err := k.RolloutStatus(ctx, status.Kind, status.Name, status.Namespace, remaining); err != nil {
				status.Status = StatusFailed
				status.Message = err.Error()
			} else {
				status.Status = StatusReady
			}
		}

		if status.Status == StatusFailed {
			result.Deployed = false
			if result.ErrorDetail == "" {
				result.ErrorDetail = status.Kind + "/" + status.Name + ": " + status.Message
			}
		}
		result.ResourceStatuses = append(result.ResourceStatuses, status)
	}

	k.logger.Info().
		Bool("deployed", result.Deployed).
		Int("resources", len(result.ResourceStatuses)).
		Msg("Deployment finished")

	return result, nil
}

func namespaceOf(doc manifest.Document, fallback string) string {
	if ns, ok := manifest.Get(doc, "metadata.namespace"); ok {
		if s, ok := ns.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}
