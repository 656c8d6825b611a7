package domain

import (
	"testing"
	"time"
)

func TestValidTransition(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{name: "pending_to_processing", from: StatusPending, to: StatusProcessing, want: true},
		{name: "processing_to_completed", from: StatusProcessing, to: StatusCompleted, want: true},
		{name: "processing_to_pending_approval", from: StatusProcessing, to: StatusPendingApproval, want: true},
		{name: "processing_to_failed", from: StatusProcessing, to: StatusFailed, want: true},
		{name: "pending_approval_to_completed", from: StatusPendingApproval, to: StatusCompleted, want: true},
		{name: "pending_approval_to_rejected", from: StatusPendingApproval, to: StatusRejected, want: true},
		{name: "pending_to_completed_skips_processing", from: StatusPending, to: StatusCompleted, want: false},
		{name: "completed_is_terminal", from: StatusCompleted, to: StatusProcessing, want: false},
		{name: "failed_is_terminal", from: StatusFailed, to: StatusPending, want: false},
		{name: "rejected_is_terminal", from: StatusRejected, to: StatusCompleted, want: false},
		{name: "processing_back_to_pending", from: StatusProcessing, to: StatusPending, want: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ValidTransition(tc.from, tc.to); got != tc.want {
				t.Fatalf("ValidTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()
	terminal := []Status{StatusCompleted, StatusRejected, StatusFailed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	live := []Status{StatusPending, StatusProcessing, StatusPendingApproval}
	for _, s := range live {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestPlanFor(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input InputType
		want  []Stage
	}{
		{input: InputTypeImage, want: []Stage{StageDescribe, StageNarrate, StageSpeak}},
		{input: InputTypeText, want: []Stage{StageNarrate, StageSpeak}},
		{input: InputTypeAudio, want: []Stage{StageTranscribe, StageNarrate, StageSpeak}},
	}
	for _, tc := range cases {
		got, err := PlanFor(tc.input)
		if err != nil {
			t.Fatalf("PlanFor(%s) returned error: %v", tc.input, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("PlanFor(%s) = %v, want %v", tc.input, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("PlanFor(%s)[%d] = %s, want %s", tc.input, i, got[i], tc.want[i])
			}
		}
	}

	if _, err := PlanFor(InputType("video")); err == nil {
		t.Fatal("PlanFor should reject unknown input types")
	}
}

func TestJobCloneIsolation(t *testing.T) {
	t.Parallel()
	job := &Job{
		ID:           "job-1",
		Status:       StatusProcessing,
		StageOutputs: []StageOutput{{Stage: StageNarrate, Title: "A Story"}},
		Metrics:      []StageMetric{{Stage: StageNarrate, Vendor: "openai", Attempts: 1}},
	}
	cp := job.Clone()
	cp.Status = StatusCompleted
	cp.StageOutputs[0].Title = "mutated"
	cp.Metrics[0].Vendor = "mutated"

	if job.Status != StatusProcessing {
		t.Fatalf("clone mutated original status: %s", job.Status)
	}
	if job.StageOutputs[0].Title != "A Story" {
		t.Fatalf("clone shares stage output backing array")
	}
	if job.Metrics[0].Vendor != "openai" {
		t.Fatalf("clone shares metrics backing array")
	}
}

func TestJobStageOutputLookup(t *testing.T) {
	t.Parallel()
	job := &Job{
		StageOutputs: []StageOutput{
			{Stage: StageDescribe, Text: "a cat", CompletedAt: time.Now()},
			{Stage: StageNarrate, Title: "Cat Tale", Body: "Once upon a time."},
		},
	}
	out, ok := job.StageOutput(StageNarrate)
	if !ok {
		t.Fatal("narrate output should be found")
	}
	if out.Title != "Cat Tale" {
		t.Fatalf("Title = %q, want %q", out.Title, "Cat Tale")
	}
	if _, ok := job.StageOutput(StageSpeak); ok {
		t.Fatal("speak output should not be found")
	}
}

func TestParseApprovalPolicy(t *testing.T) {
	t.Parallel()
	if policy, ok := ParseApprovalPolicy(""); !ok || policy != ApprovalAuto {
		t.Fatalf("empty policy = (%s, %v), want (auto, true)", policy, ok)
	}
	if _, ok := ParseApprovalPolicy("sometimes"); ok {
		t.Fatal("unknown policy should be rejected")
	}
	for _, raw := range []string{"auto", "manual", "notify"} {
		if _, ok := ParseApprovalPolicy(raw); !ok {
			t.Fatalf("policy %q should parse", raw)
		}
	}
}
