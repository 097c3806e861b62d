package job

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var allStatuses = []Status{StatusInQueue, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut}

func TestNew(t *testing.T) {
	j := New()

	if j.ID == "" {
		t.Error("expected job to have an ID")
	}
	if j.Status != StatusInQueue {
		t.Errorf("expected status %s, got %s", StatusInQueue, j.Status)
	}
	if j.CreatedAt.IsZero() || !j.CreatedAt.Equal(j.UpdatedAt) {
		t.Errorf("expected CreatedAt == UpdatedAt, got %v and %v", j.CreatedAt, j.UpdatedAt)
	}
	if j.Outputs == nil || j.Documents == nil {
		t.Error("expected Outputs and Documents to be initialized")
	}
	if other := New(); other.ID == j.ID {
		t.Errorf("expected distinct IDs, got %s twice", j.ID)
	}
}

func TestJob_TransitionTable(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusInQueue, StatusRunning}:   true,
		{StatusInQueue, StatusCancelled}: true,
		{StatusInQueue, StatusTimedOut}:  true,
		{StatusRunning, StatusCompleted}: true,
		{StatusRunning, StatusFailed}:    true,
		{StatusRunning, StatusCancelled}: true,
		{StatusRunning, StatusTimedOut}:  true,
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				j := NewWithID("job-test")
				j.Status = from

				err := j.TransitionTo(to)
				if allowed[[2]Status{from, to}] {
					if err != nil {
						t.Fatalf("unexpected error: %v", err)
					}
					if j.Status != to {
						t.Errorf("status = %s, want %s", j.Status, to)
					}
					return
				}
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("expected ErrInvalidTransition, got %v", err)
				}
				if j.Status != from {
					t.Errorf("rejected transition changed status to %s", j.Status)
				}
			})
		}
	}
}

func TestJob_Lifecycle_Timestamps(t *testing.T) {
	j := New()
	before := time.Now()

	if err := j.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if j.StartedAt.Before(before) {
		t.Error("expected StartedAt to be set on start")
	}
	if !j.CompletedAt.IsZero() {
		t.Error("running job should have no CompletedAt")
	}

	j.UpdateProgress(40)
	if err := j.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if j.Progress != 100 {
		t.Errorf("expected progress 100 on completion, got %d", j.Progress)
	}
	if j.CompletedAt.Before(j.StartedAt) {
		t.Error("CompletedAt should not precede StartedAt")
	}
}

func TestJob_TerminalEndings(t *testing.T) {
	tests := []struct {
		name string
		end  func(*Job) error
		want Status
	}{
		{"fail", func(j *Job) error { return j.Fail("model unavailable") }, StatusFailed},
		{"cancel", (*Job).Cancel, StatusCancelled},
		{"timeout", (*Job).Timeout, StatusTimedOut},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := New()
			_ = j.Start()
			j.UpdateProgress(30)

			if err := tt.end(j); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if j.Status != tt.want || !j.IsTerminal() {
				t.Errorf("status = %s, terminal = %v", j.Status, j.IsTerminal())
			}
			if j.CompletedAt.IsZero() {
				t.Error("expected CompletedAt to be set")
			}
			if j.Progress != 30 {
				t.Errorf("unsuccessful ending should keep progress, got %d", j.Progress)
			}
		})
	}
}

func TestJob_Fail_Terminal(t *testing.T) {
	j := New()
	_ = j.Start()
	_ = j.Cancel()

	if err := j.Fail("late error"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if j.Error != "" {
		t.Errorf("expected no error message on a cancelled job, got %q", j.Error)
	}
}

func TestJob_UpdateProgress_Clamps(t *testing.T) {
	j := New()
	for in, want := range map[int]int{-10: 0, 0: 0, 55: 55, 100: 100, 150: 100} {
		j.UpdateProgress(in)
		if j.Progress != want {
			t.Errorf("UpdateProgress(%d) = %d, want %d", in, j.Progress, want)
		}
	}
}

func TestJob_SetOutput(t *testing.T) {
	j := New()

	j.SetOutput("srt", "s3://bucket/out/call.srt", "1\n00:00:00,000 --> 00:00:01,000\nhello\n\n")
	j.SetOutput("plain_text", "", "hello")

	if got := j.Outputs["srt"]; got != "s3://bucket/out/call.srt" {
		t.Errorf("expected srt URI, got %q", got)
	}
	if _, ok := j.Outputs["plain_text"]; ok {
		t.Error("expected unwritten output to have no URI")
	}
	if got := j.Documents["plain_text"]; got != "hello" {
		t.Errorf("expected plain_text document hello, got %q", got)
	}
}

func TestJob_Clone(t *testing.T) {
	j := New()
	j.Workflow = "calls"
	j.Steps = []string{"noise_removal"}
	_ = j.Start()
	j.SetOutput("srt", "s3://bucket/call.srt", "srt body")

	c := j.Clone()
	if c.ID != j.ID || c.Workflow != "calls" || c.Status != StatusRunning || !c.StartedAt.Equal(j.StartedAt) {
		t.Fatalf("clone differs from original: %+v", c)
	}

	c.Status = StatusCompleted
	c.Steps[0] = "audio_enhancement"
	c.Outputs["srt"] = "changed"
	c.Documents["srt"] = "changed"
	if j.Status != StatusRunning || j.Steps[0] != "noise_removal" {
		t.Error("modifying clone should not affect original")
	}
	if j.Outputs["srt"] != "s3://bucket/call.srt" || j.Documents["srt"] != "srt body" {
		t.Error("modifying clone outputs should not affect original")
	}
}

func TestParseStatus(t *testing.T) {
	for _, st := range allStatuses {
		got, err := ParseStatus(" " + string(st) + " ")
		if err != nil || got != st {
			t.Errorf("ParseStatus(%q) = %q, %v", st, got, err)
		}
	}
	if got, err := ParseStatus("timed_out"); err != nil || got != StatusTimedOut {
		t.Errorf("ParseStatus(timed_out) = %q, %v", got, err)
	}
	for _, bad := range []string{"", "done", "QUEUED"} {
		if _, err := ParseStatus(bad); !errors.Is(err, ErrUnknownStatus) {
			t.Errorf("ParseStatus(%q): expected ErrUnknownStatus, got %v", bad, err)
		}
	}
}

func TestJob_ConcurrentAccess(t *testing.T) {
	j := New()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for range 100 {
			_ = j.GetStatus()
			_ = j.Clone()
		}
	}()
	go func() {
		defer wg.Done()
		for i := range 100 {
			j.UpdateProgress(i)
		}
	}()
	go func() {
		defer wg.Done()
		for range 100 {
			_ = j.Start()
		}
	}()
	wg.Wait()

	if j.GetStatus() != StatusRunning {
		t.Errorf("expected status %s, got %s", StatusRunning, j.GetStatus())
	}
}
