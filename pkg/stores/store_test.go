package stores

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/deployconf/pkg/engine"
)

var testResources = []engine.ResourceRef{
	{Kind: "Deployment", Group: "apps", Version: "v1", Namespaced: true},
	{Kind: "Service", Version: "v1", Namespaced: true},
}

// storeFactories lets every contract test run against both implementations.
func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store { return setupTestStore(t) },
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestCreateAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		rec, err := store.Create(ctx, "sol_1", "run a web app", testResources)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if rec.Status != engine.StatusSelected || rec.CurrentStage != engine.StageRequired {
			t.Fatalf("new record status=%s stage=%s", rec.Status, rec.CurrentStage)
		}
		if rec.Version != 1 {
			t.Errorf("new record version = %d, want 1", rec.Version)
		}

		got, err := store.Get(ctx, "sol_1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Intent != "run a web app" {
			t.Errorf("Intent = %q", got.Intent)
		}
		if len(got.Resources) != 2 || got.Resources[0].Kind != "Deployment" || got.Resources[1].Group != "" {
			t.Errorf("Resources = %+v", got.Resources)
		}
		if !got.CreatedAt.Equal(rec.CreatedAt) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, rec.CreatedAt)
		}
	})
}

func TestCreateDuplicate(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if _, err := store.Create(ctx, "sol_dup", "", testResources); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		_, err := store.Create(ctx, "sol_dup", "", testResources)
		var exists *engine.AlreadyExistsError
		if !errors.As(err, &exists) {
			t.Fatalf("second Create() error = %v, want AlreadyExistsError", err)
		}
	})
}

func TestGetNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		_, err := store.Get(context.Background(), "sol_missing")
		if !engine.IsNotFound(err) {
			t.Fatalf("Get() error = %v, want not found", err)
		}
		_, err = store.Update(context.Background(), "sol_missing", func(*engine.SolutionRecord) error { return nil })
		if !engine.IsNotFound(err) {
			t.Fatalf("Update() error = %v, want not found", err)
		}
	})
}

func TestUpdateCommitsAnswers(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if _, err := store.Create(ctx, "sol_1", "", testResources); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		updated, err := store.Update(ctx, "sol_1", func(rec *engine.SolutionRecord) error {
			rec.StageAnswers[engine.StageRequired] = engine.Answers{
				"name":     engine.TextAnswer("web"),
				"replicas": engine.NumberAnswer(3),
				"expose":   engine.BoolAnswer(true),
				"tier":     engine.SelectAnswer("gold"),
				"note":     nil,
			}
			rec.CompletedStages = append(rec.CompletedStages, engine.StageRequired)
			rec.CurrentStage = engine.StageBasic
			rec.Status = engine.StatusConfiguring
			return nil
		})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if updated.Version != 2 {
			t.Errorf("Version = %d, want 2", updated.Version)
		}

		got, err := store.Get(ctx, "sol_1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		answers := got.StageAnswers[engine.StageRequired]
		if answers["name"].String() != "web" || answers["replicas"].Number != 3 || !answers["expose"].Bool {
			t.Errorf("answers = %+v", answers)
		}
		if answers["tier"].String() != "gold" {
			t.Errorf("tier = %v", answers["tier"])
		}
		if v, ok := answers["note"]; !ok || v != nil {
			t.Errorf("note = %v (present=%v), want explicit nil", v, ok)
		}
		if got.CurrentStage != engine.StageBasic || got.Status != engine.StatusConfiguring {
			t.Errorf("stage=%s status=%s", got.CurrentStage, got.Status)
		}
	})
}

func TestUpdateRejectedFunctionWritesNothing(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if _, err := store.Create(ctx, "sol_1", "", testResources); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		boom := errors.New("boom")
		_, err := store.Update(ctx, "sol_1", func(rec *engine.SolutionRecord) error {
			rec.Status = engine.StatusConfiguring
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("Update() error = %v, want boom", err)
		}

		got, err := store.Get(ctx, "sol_1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Status != engine.StatusSelected || got.Version != 1 {
			t.Errorf("record changed: status=%s version=%d", got.Status, got.Version)
		}
	})
}

func TestUpdateRejectsInvariantViolations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*engine.SolutionRecord)
	}{
		{name: "resources", mutate: func(r *engine.SolutionRecord) { r.Resources = r.Resources[:1] }},
		{name: "id", mutate: func(r *engine.SolutionRecord) { r.ID = "sol_other" }},
		{name: "manifest outside generation", mutate: func(r *engine.SolutionRecord) { r.ManifestText = "kind: Pod" }},
		{name: "ready without open", mutate: func(r *engine.SolutionRecord) { r.Status = engine.StatusReadyForGeneration }},
		{name: "unknown status", mutate: func(r *engine.SolutionRecord) { r.Status = "archived" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forEachStore(t, func(t *testing.T, store Store) {
				ctx := context.Background()
				if _, err := store.Create(ctx, "sol_1", "", testResources); err != nil {
					t.Fatalf("Create() error = %v", err)
				}
				_, err := store.Update(ctx, "sol_1", func(rec *engine.SolutionRecord) error {
					tt.mutate(rec)
					return nil
				})
				if engine.CodeOf(err) != engine.ErrCodeInvariantViolation {
					t.Fatalf("Update() error = %v, want invariant violation", err)
				}
				got, _ := store.Get(ctx, "sol_1")
				if got.Version != 1 {
					t.Errorf("rejected update was written, version = %d", got.Version)
				}
			})
		})
	}
}

func TestValidationAttemptsAppendOnly(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if _, err := store.Create(ctx, "sol_1", "", testResources); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		attempt := func(n int, outcome engine.AttemptOutcome) engine.ValidationAttempt {
			return engine.ValidationAttempt{
				ID:            fmt.Sprintf("att-%d", n),
				Generation:    1,
				AttemptNumber: n,
				ManifestText:  "kind: Deployment",
				Outcome:       outcome,
				ErrorDetail:   "missing selector",
				ErrorClass:    engine.ErrorClassPermanent,
				CreatedAt:     now,
			}
		}

		_, err := store.Update(ctx, "sol_1", func(rec *engine.SolutionRecord) error {
			rec.Status = engine.StatusGenerating
			rec.Generation = 1
			rec.GeneratingSince = &now
			rec.ValidationAttempts = append(rec.ValidationAttempts, attempt(1, engine.OutcomeInvalid))
			return nil
		})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		_, err = store.Update(ctx, "sol_1", func(rec *engine.SolutionRecord) error {
			rec.ValidationAttempts = append(rec.ValidationAttempts, attempt(2, engine.OutcomeInvalid))
			return nil
		})
		if err != nil {
			t.Fatalf("second Update() error = %v", err)
		}

		_, err = store.Update(ctx, "sol_1", func(rec *engine.SolutionRecord) error {
			rec.ValidationAttempts[0].ErrorDetail = "rewritten"
			return nil
		})
		if engine.CodeOf(err) != engine.ErrCodeInvariantViolation {
			t.Fatalf("rewrite error = %v, want invariant violation", err)
		}
		_, err = store.Update(ctx, "sol_1", func(rec *engine.SolutionRecord) error {
			rec.ValidationAttempts = rec.ValidationAttempts[1:]
			return nil
		})
		if engine.CodeOf(err) != engine.ErrCodeInvariantViolation {
			t.Fatalf("truncate error = %v, want invariant violation", err)
		}

		got, err := store.Get(ctx, "sol_1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if len(got.ValidationAttempts) != 2 {
			t.Fatalf("attempts = %d, want 2", len(got.ValidationAttempts))
		}
		first := got.ValidationAttempts[0]
		if first.ID != "att-1" || first.ErrorDetail != "missing selector" || !first.CreatedAt.Equal(now) {
			t.Errorf("first attempt = %+v", first)
		}
		if got.ValidationAttempts[1].AttemptNumber != 2 {
			t.Errorf("second attempt = %+v", got.ValidationAttempts[1])
		}
		if got.GeneratingSince == nil || !got.GeneratingSince.Equal(now) {
			t.Errorf("GeneratingSince = %v", got.GeneratingSince)
		}
	})
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if _, err := store.Create(ctx, "sol_1", "", testResources); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		const workers = 16
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Update(ctx, "sol_1", func(rec *engine.SolutionRecord) error {
					rec.Generation++
					return nil
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("Update() error = %v", err)
			}
		}

		got, err := store.Get(ctx, "sol_1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Generation != workers {
			t.Errorf("Generation = %d, want %d (lost update)", got.Generation, workers)
		}
		if got.Version != workers+1 {
			t.Errorf("Version = %d, want %d", got.Version, workers+1)
		}
	})
}

func TestListOrderingAndFilter(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		tick := 0
		clock := func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Minute)
		}
		switch s := store.(type) {
		case *MemoryStore:
			s.WithClock(clock)
		case *SQLiteStore:
			s.WithClock(clock)
		}

		for _, id := range []string{"sol_a", "sol_b", "sol_c"} {
			if _, err := store.Create(ctx, id, "", testResources); err != nil {
				t.Fatalf("Create(%s) error = %v", id, err)
			}
		}
		if _, err := store.Update(ctx, "sol_b", func(rec *engine.SolutionRecord) error {
			rec.Status = engine.StatusConfiguring
			return nil
		}); err != nil {
			t.Fatalf("Update() error = %v", err)
		}

		all, err := store.List(ctx, engine.SolutionFilter{})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if ids := recordIDs(all); fmt.Sprint(ids) != "[sol_c sol_b sol_a]" {
			t.Errorf("List() ids = %v", ids)
		}

		configuring, err := store.List(ctx, engine.SolutionFilter{Status: engine.StatusConfiguring})
		if err != nil {
			t.Fatalf("List(status) error = %v", err)
		}
		if ids := recordIDs(configuring); fmt.Sprint(ids) != "[sol_b]" {
			t.Errorf("List(status) ids = %v", ids)
		}

		page, err := store.List(ctx, engine.SolutionFilter{Limit: 1, Offset: 1})
		if err != nil {
			t.Fatalf("List(page) error = %v", err)
		}
		if ids := recordIDs(page); fmt.Sprint(ids) != "[sol_b]" {
			t.Errorf("List(page) ids = %v", ids)
		}
	})
}

func TestAuditTrail(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if _, err := store.Create(ctx, "sol_1", "", testResources); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if _, err := store.Create(ctx, "sol_2", "", testResources); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if _, err := store.Update(ctx, "sol_1", func(rec *engine.SolutionRecord) error {
			rec.StageAnswers[engine.StageRequired] = engine.Answers{"name": engine.TextAnswer("web")}
			rec.CompletedStages = append(rec.CompletedStages, engine.StageRequired)
			rec.CurrentStage = engine.StageBasic
			rec.Status = engine.StatusConfiguring
			return nil
		}); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if _, err := store.Update(ctx, "sol_1", func(rec *engine.SolutionRecord) error {
			rec.StageAnswers[engine.StageRequired] = engine.Answers{"name": engine.TextAnswer("api")}
			return nil
		}); err != nil {
			t.Fatalf("resubmit Update() error = %v", err)
		}

		entries, err := store.ListAudit(ctx, "sol_1", 0)
		if err != nil {
			t.Fatalf("ListAudit() error = %v", err)
		}
		var actions []string
		for _, e := range entries {
			actions = append(actions, e.Action)
		}
		want := fmt.Sprint([]string{ActionCreated, ActionAnswersAccepted, ActionAnswersAccepted})
		if fmt.Sprint(actions) != want {
			t.Fatalf("actions = %v, want %v", actions, want)
		}
		if entries[2].Version != 3 || entries[2].Details == nil {
			t.Errorf("last entry = %+v", entries[2])
		}

		all, err := store.ListAudit(ctx, "", 0)
		if err != nil {
			t.Fatalf("ListAudit(all) error = %v", err)
		}
		if len(all) != 4 {
			t.Errorf("total audit entries = %d, want 4", len(all))
		}
	})
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unlock := k.Lock(fmt.Sprintf("key-%d", i%2))
			unlock()
		}(i)
	}
	wg.Wait()
	if n := k.size(); n != 0 {
		t.Errorf("live lock entries = %d, want 0", n)
	}
}

func recordIDs(records []*engine.SolutionRecord) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}
