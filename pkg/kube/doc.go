// Package kube wraps kubectl for server-side dry runs and deployments.
//
// Kubectl.ServerDryRun backs the cluster validator and Kubectl.Deploy
// implements engine.Deployer: it applies a manifest and waits for every
// Deployment, StatefulSet and DaemonSet to roll out. Failures that point at
// the cluster connection are reported as temporary so callers can retry.
package kube
