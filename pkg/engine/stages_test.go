package engine

import (
	"errors"
	"reflect"
	"testing"
)

func TestStageOrdering(t *testing.T) {
	stages := Stages()
	if len(stages) != 4 {
		t.Fatalf("Stages() = %v", stages)
	}
	for i, s := range stages {
		if s.Index() != i {
			t.Errorf("%s.Index() = %d, want %d", s, s.Index(), i)
		}
	}
	if next, ok := StageAdvanced.Next(); !ok || next != StageOpen {
		t.Errorf("advanced.Next() = %s, %v", next, ok)
	}
	if _, ok := StageOpen.Next(); ok {
		t.Error("open has no next stage")
	}
	if _, err := ParseStage("expert"); err == nil {
		t.Error("ParseStage(expert) should fail")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Stage
		want     bool
	}{
		{StageRequired, StageBasic, true},
		{StageRequired, StageOpen, true},
		{StageRequired, StageAdvanced, false},
		{StageBasic, StageAdvanced, true},
		{StageBasic, StageOpen, true},
		{StageAdvanced, StageOpen, true},
		{StageAdvanced, StageBasic, false},
		{StageOpen, StageRequired, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestNextStage(t *testing.T) {
	answered := Answers{"name": TextAnswer("web")}
	mandatory := []string{"name"}

	tests := []struct {
		name    string
		in      TransitionInput
		want    Transition
		wantErr interface{}
	}{
		{
			name: "advance from required",
			in:   TransitionInput{Current: StageRequired, Requested: StageRequired, Answers: answered, Mandatory: mandatory},
			want: Transition{Stage: StageRequired, Next: StageBasic},
		},
		{
			name: "advance from advanced",
			in:   TransitionInput{Current: StageAdvanced, Requested: StageAdvanced, Answers: Answers{}},
			want: Transition{Stage: StageAdvanced, Next: StageOpen},
		},
		{
			name: "open completes",
			in:   TransitionInput{Current: StageOpen, Requested: StageOpen, Answers: Answers{OpenAnswerKey: TextAnswer("ok")}},
			want: Transition{Stage: StageOpen, Next: StageOpen, Ready: true},
		},
		{
			name: "resubmit last completed",
			in: TransitionInput{
				Current: StageBasic, Requested: StageRequired, Answers: answered, Mandatory: mandatory,
				Completed: []Stage{StageRequired},
			},
			want: Transition{Stage: StageRequired, Next: StageBasic, Resubmission: true},
		},
		{
			name: "jump basic to open skips advanced",
			in: TransitionInput{
				Current: StageBasic, Requested: StageOpen, Answers: Answers{OpenAnswerKey: TextAnswer("ok")},
				Completed: []Stage{StageRequired},
			},
			want: Transition{Stage: StageOpen, Next: StageOpen, Skipped: []Stage{StageBasic, StageAdvanced}, Ready: true},
		},
		{
			name: "skip required without mandatory",
			in:   TransitionInput{Current: StageRequired, Requested: StageBasic, Answers: Answers{}},
			want: Transition{Stage: StageBasic, Next: StageAdvanced, Skipped: []Stage{StageRequired}},
		},
		{
			name:    "skip required with mandatory",
			in:      TransitionInput{Current: StageRequired, Requested: StageBasic, Answers: Answers{}, Mandatory: mandatory},
			wantErr: &CompletenessError{},
		},
		{
			name:    "illegal jump",
			in:      TransitionInput{Current: StageRequired, Requested: StageAdvanced, Answers: Answers{}},
			wantErr: &InvalidTransitionError{},
		},
		{
			name: "backwards beyond last completed",
			in: TransitionInput{
				Current: StageAdvanced, Requested: StageRequired, Answers: answered,
				Completed: []Stage{StageRequired, StageBasic},
			},
			wantErr: &StageMismatchError{},
		},
		{
			name:    "unknown stage",
			in:      TransitionInput{Current: StageRequired, Requested: "expert"},
			wantErr: &StageMismatchError{},
		},
		{
			name:    "required with no answers",
			in:      TransitionInput{Current: StageRequired, Requested: StageRequired, Answers: Answers{}},
			wantErr: &CompletenessError{},
		},
		{
			name:    "open with wrong key",
			in:      TransitionInput{Current: StageOpen, Requested: StageOpen, Answers: Answers{"notes": TextAnswer("x")}},
			wantErr: &CompletenessError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextStage(tt.in)
			if tt.wantErr != nil {
				if err == nil {
					t.Fatalf("NextStage() = %+v, want error %T", got, tt.wantErr)
				}
				target := reflect.New(reflect.TypeOf(tt.wantErr)).Interface()
				if !errors.As(err, target) {
					t.Fatalf("NextStage() error = %T (%v), want %T", err, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NextStage() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NextStage() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNextStageMissingIDsSorted(t *testing.T) {
	_, err := NextStage(TransitionInput{
		Current:   StageRequired,
		Requested: StageRequired,
		Answers:   Answers{"zone": TextAnswer("eu")},
		Mandatory: []string{"zone", "name", "image"},
	})
	var incomplete *CompletenessError
	if !errors.As(err, &incomplete) {
		t.Fatalf("error = %v, want CompletenessError", err)
	}
	if !reflect.DeepEqual(incomplete.Missing, []string{"image", "name"}) {
		t.Errorf("Missing = %v", incomplete.Missing)
	}
}

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		status                  Status
		answers, gen, deploy, m bool
	}{
		{StatusSelected, true, false, false, false},
		{StatusConfiguring, true, false, false, false},
		{StatusReadyForGeneration, false, true, false, false},
		{StatusGenerating, false, false, false, true},
		{StatusGenerated, false, false, true, true},
		{StatusGenerationFailed, false, true, false, true},
		{StatusDeployed, false, false, true, false},
		{StatusDeployFailed, false, false, true, false},
	}
	for _, tt := range tests {
		if err := tt.status.Validate(); err != nil {
			t.Errorf("%s.Validate() = %v", tt.status, err)
		}
		if tt.status.AcceptsAnswers() != tt.answers {
			t.Errorf("%s.AcceptsAnswers() = %v", tt.status, !tt.answers)
		}
		if tt.status.CanGenerate() != tt.gen {
			t.Errorf("%s.CanGenerate() = %v", tt.status, !tt.gen)
		}
		if tt.status.CanDeploy() != tt.deploy {
			t.Errorf("%s.CanDeploy() = %v", tt.status, !tt.deploy)
		}
		if tt.status.AllowsManifestWrites() != tt.m {
			t.Errorf("%s.AllowsManifestWrites() = %v", tt.status, !tt.m)
		}
	}
	if err := Status("archived").Validate(); err == nil {
		t.Error("unknown status should not validate")
	}
}
