package kube

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/deployconf/pkg/engine"
)

type call struct {
	name  string
	args  []string
	stdin string
}

// fakeRunner answers each call with the first response whose key is
// contained in the joined arguments.
type fakeRunner struct {
	mu        sync.Mutex
	calls     []call
	responses []fakeResponse
}

type fakeResponse struct {
	match  string
	stdout string
	stderr string
	exit   int
	err    error
}

func (f *fakeRunner) Run(_ context.Context, name string, args []string, stdin string) (*ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{name: name, args: args, stdin: stdin})

	joined := strings.Join(args, " ")
	for _, r := range f.responses {
		if !strings.Contains(joined, r.match) {
			continue
		}
		res := &ExecResult{Stdout: r.stdout, Stderr: r.stderr, ExitCode: r.exit}
		if r.exit != 0 && r.err == nil {
			return res, errors.New("exit status 1")
		}
		return res, r.err
	}
	return &ExecResult{}, nil
}

const webManifest = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
  namespace: shop
spec:
  selector:
    matchLabels: {app: web}
  template:
    metadata:
      labels: {app: web}
    spec:
      containers:
        - name: web
          image: nginx:1.27
---
apiVersion: v1
kind: Service
metadata:
  name: web
spec:
  selector: {app: web}
  ports:
    - port: 80
`

func newTestKubectl(t *testing.T, runner Runner, mutate func(*Config)) *Kubectl {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	k, err := NewWithRunner(cfg, runner, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWithRunner() error = %v", err)
	}
	return k
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cfg.Binary = ""
	if _, err := NewWithRunner(cfg, &fakeRunner{}, zerolog.Nop()); err == nil {
		t.Error("expected an error for a missing binary")
	}

	cfg = DefaultConfig()
	cfg.RequestTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for a zero timeout")
	}
}

func TestServerDryRunArgs(t *testing.T) {
	runner := &fakeRunner{}
	k := newTestKubectl(t, runner, func(c *Config) {
		c.Kubeconfig = "/tmp/kc"
		c.Context = "staging"
		c.Namespace = "default"
	})

	if _, err := k.ServerDryRun(context.Background(), webManifest); err != nil {
		t.Fatalf("ServerDryRun() error = %v", err)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("got %d calls", len(runner.calls))
	}
	c := runner.calls[0]
	want := "--kubeconfig /tmp/kc --context staging apply --dry-run=server -f - -o name --namespace default"
	if c.name != "kubectl" || strings.Join(c.args, " ") != want {
		t.Errorf("call = %s %v", c.name, c.args)
	}
	if c.stdin != webManifest {
		t.Error("manifest was not passed on stdin")
	}
}

func TestServerDryRunClassification(t *testing.T) {
	tests := []struct {
		name      string
		stderr    string
		temporary bool
	}{
		{"rejected", `The Deployment "web" is invalid: spec.selector: Required value`, false},
		{"unreachable", "Unable to connect to the server: dial tcp 10.0.0.1:6443: connect: connection refused", true},
		{"throttled", "Error from server (TooManyRequests): Too many requests", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{responses: []fakeResponse{{match: "dry-run", stderr: tt.stderr, exit: 1}}}
			_, err := newTestKubectl(t, runner, nil).ServerDryRun(context.Background(), webManifest)

			var ce *CommandError
			if !errors.As(err, &ce) {
				t.Fatalf("error = %v, want *CommandError", err)
			}
			if ce.Temporary() != tt.temporary {
				t.Errorf("Temporary() = %v, want %v", ce.Temporary(), tt.temporary)
			}
			if ce.Rejected() == tt.temporary {
				t.Errorf("Rejected() = %v, want %v", ce.Rejected(), !tt.temporary)
			}
			if ce.Stderr != tt.stderr || ce.ExitCode != 1 {
				t.Errorf("error = %+v", ce)
			}
		})
	}
}

func TestServerDryRunMissingBinary(t *testing.T) {
	runner := &fakeRunner{responses: []fakeResponse{{match: "dry-run", exit: -1, err: exec.ErrNotFound}}}
	_, err := newTestKubectl(t, runner, nil).ServerDryRun(context.Background(), webManifest)

	var ce *CommandError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *CommandError", err)
	}
	if ce.Rejected() {
		t.Errorf("a missing binary must not read as a rejection: %+v", ce)
	}
	if ce.ExitCode != -1 || !errors.Is(err, exec.ErrNotFound) {
		t.Errorf("error = %+v", ce)
	}
}

func TestDeploy(t *testing.T) {
	runner := &fakeRunner{responses: []fakeResponse{
		{match: "apply -f -", stdout: "deployment.apps/web\nservice/web\n"},
	}}
	k := newTestKubectl(t, runner, func(c *Config) { c.Namespace = "default" })

	res, err := k.Deploy(context.Background(), webManifest, time.Minute)
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if !res.Deployed || res.ErrorDetail != "" {
		t.Fatalf("result = %+v", res)
	}

	want := []engine.ResourceStatus{
		{Kind: "Deployment", Name: "web", Namespace: "shop", Status: StatusReady},
		{Kind: "Service", Name: "web", Namespace: "default", Status: StatusApplied},
	}
	if len(res.ResourceStatuses) != len(want) {
		t.Fatalf("statuses = %+v", res.ResourceStatuses)
	}
	for i := range want {
		if res.ResourceStatuses[i] != want[i] {
			t.Errorf("status[%d] = %+v, want %+v", i, res.ResourceStatuses[i], want[i])
		}
	}

	rollout := strings.Join(runner.calls[1].args, " ")
	if !strings.HasPrefix(rollout, "rollout status deployment/web --timeout=") || !strings.HasSuffix(rollout, "--namespace shop") {
		t.Errorf("rollout call = %s", rollout)
	}
}

func TestDeployRolloutFailure(t *testing.T) {
	runner := &fakeRunner{responses: []fakeResponse{
		{match: "apply -f -", stdout: "deployment.apps/web\nservice/web\n"},
		{match: "rollout status", stderr: "error: deployment \"web\" exceeded its progress deadline", exit: 1},
	}}
	res, err := newTestKubectl(t, runner, nil).Deploy(context.Background(), webManifest, time.Minute)
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if res.Deployed {
		t.Fatal("deployment should have failed")
	}
	if res.ResourceStatuses[0].Status != StatusFailed || !strings.Contains(res.ErrorDetail, "progress deadline") {
		t.Errorf("result = %+v", res)
	}
}

func TestDeployErrors(t *testing.T) {
	ctx := context.Background()

	_, err := newTestKubectl(t, &fakeRunner{}, nil).Deploy(ctx, "- not\n- a mapping\n", time.Minute)
	if !engine.IsPermanent(err) {
		t.Errorf("decode error = %v, want permanent", err)
	}

	rejected := &fakeRunner{responses: []fakeResponse{{match: "apply", stderr: "admission webhook denied the request", exit: 1}}}
	res, err := newTestKubectl(t, rejected, nil).Deploy(ctx, webManifest, time.Minute)
	if err != nil {
		t.Fatalf("rejected apply error = %v", err)
	}
	if res.Deployed || !strings.Contains(res.ErrorDetail, "admission webhook") {
		t.Errorf("rejected result = %+v", res)
	}

	unreachable := &fakeRunner{responses: []fakeResponse{{match: "apply", stderr: "Unable to connect to the server", exit: 1}}}
	_, err = newTestKubectl(t, unreachable, nil).Deploy(ctx, webManifest, time.Minute)
	if !engine.IsTransient(err) {
		t.Errorf("unreachable error = %v, want transient", err)
	}

	missing := &fakeRunner{responses: []fakeResponse{{match: "apply", exit: -1, err: exec.ErrNotFound}}}
	res, err = newTestKubectl(t, missing, nil).Deploy(ctx, webManifest, time.Minute)
	if err == nil || res != nil {
		t.Errorf("missing binary = %+v, %v, want an error", res, err)
	}
}
