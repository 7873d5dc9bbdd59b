package worker

import (
	"testing"
	"time"
)

func TestControlHealthReadyAfterDone(t *testing.T) {
	c := New("test", time.Second)
	c.Beat(Doing)
	if got := c.Health().State; got != Working {
		t.Fatalf("State after Doing = %v, want Working", got)
	}
	c.Beat(Done)
	snap := c.Health()
	if snap.State != Ready {
		t.Fatalf("State after Done = %v, want Ready", snap.State)
	}
	if snap.Working != Done {
		t.Fatalf("Working = %v, want Done", snap.Working)
	}
}

func TestControlHealthStuckAfterStaleHeartbeat(t *testing.T) {
	c := New("test", 5*time.Millisecond)
	c.Beat(Doing)
	time.Sleep(20 * time.Millisecond)

	snap := c.Health()
	if snap.State != Stuck {
		t.Fatalf("State = %v, want Stuck", snap.State)
	}
}

func TestControlBeatTaskRecordsTaskID(t *testing.T) {
	c := New("test", time.Second)
	c.BeatTask(Doing, 42)
	if got := c.Health().TaskID; got != 42 {
		t.Fatalf("TaskID = %d, want 42", got)
	}
}

func TestControlIncHandled(t *testing.T) {
	c := New("test", time.Second)
	c.IncHandled()
	c.IncHandled()
	if got := c.Health().Handled; got != 2 {
		t.Fatalf("Handled = %d, want 2", got)
	}
}

func TestControlSetEnable(t *testing.T) {
	c := New("test", time.Second)
	c.SetEnable(Disable)
	if got := c.EnableState(); got != Disable {
		t.Fatalf("EnableState() = %v, want Disable", got)
	}
}

func TestStateStrings(t *testing.T) {
	cases := map[State]string{Ready: "READY", Working: "WORKING", Stuck: "STUCK"}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestWorkingStateStrings(t *testing.T) {
	cases := map[WorkingState]string{
		NotStart: "NOT_START", BeforeCleanedUp: "BEFORE_CLEANED_UP", Init: "INIT",
		Doing: "DOING", Done: "DONE", DoneCleanedUp: "DONE_CLEANED_UP", ErrorExit: "ERROR_EXIT",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("WorkingState(%d).String() = %q, want %q", state, got, want)
		}
	}
}
