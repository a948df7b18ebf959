package stores

import (
	"encoding/json"
	"sync"

	"github.com/openfroyo/deployconf/pkg/engine"
)

// describeChange derives the audit action and details of a committed update.
func describeChange(before, after *engine.SolutionRecord) (string, *string) {
	details := map[string]interface{}{}
	if before.Status != after.Status {
		details["from_status"] = before.Status
		details["to_status"] = after.Status
	}
	if before.CurrentStage != after.CurrentStage {
		details["from_stage"] = before.CurrentStage
		details["to_stage"] = after.CurrentStage
	}
	added := len(after.ValidationAttempts) - len(before.ValidationAttempts)
	if added > 0 {
		last := after.ValidationAttempts[len(after.ValidationAttempts)-1]
		details["attempts_added"] = added
		details["generation"] = last.Generation
		details["attempt_number"] = last.AttemptNumber
		details["outcome"] = last.Outcome
	}

	action := ActionUpdated
	switch {
	case before.Status != after.Status:
		switch after.Status {
		case engine.StatusConfiguring, engine.StatusReadyForGeneration:
			action = ActionAnswersAccepted
		case engine.StatusGenerating:
			action = ActionGenerationStarted
		case engine.StatusGenerated:
			action = ActionManifestGenerated
		case engine.StatusGenerationFailed:
			action = ActionGenerationFailed
		case engine.StatusDeployed:
			action = ActionDeployed
		case engine.StatusDeployFailed:
			action = ActionDeployFailed
		}
	case added > 0:
		action = ActionAttemptRecorded
	case before.Generation != after.Generation:
		action = ActionGenerationStarted
	case before.CurrentStage != after.CurrentStage || len(before.CompletedStages) != len(after.CompletedStages):
		action = ActionAnswersAccepted
	case !sameAnswers(before.StageAnswers, after.StageAnswers):
		action = ActionAnswersAccepted
		details["resubmission"] = true
	case after.Deployment != nil && (before.Deployment == nil || !after.Deployment.DeployedAt.Equal(before.Deployment.DeployedAt)):
		if after.Deployment.Deployed {
			action = ActionDeployed
		} else {
			action = ActionDeployFailed
		}
	}

	if len(details) == 0 {
		return action, nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return action, nil
	}
	s := string(raw)
	return action, &s
}

func sameAnswers(a, b map[engine.Stage]engine.Answers) bool {
	if len(a) != len(b) {
		return false
	}
	for stage, answers := range a {
		other, ok := b[stage]
		if !ok || !answers.Equal(other) {
			return false
		}
	}
	return true
}

// keyedMutex serializes work per key. Entries are reference counted and
// removed once no goroutine holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()

	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// size returns the number of live lock entries.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
