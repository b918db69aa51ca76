package statemachine

import (
	"errors"
	"testing"

	"go.uber.org/goleak"
)

type fakeEntity struct {
	startCalls int
	stopCalls  int
}

func (f *fakeEntity) Start() { f.startCalls++ }
func (f *fakeEntity) Stop()  { f.stopCalls++ }

func TestHappyPathToRunning(t *testing.T) {
	defer goleak.VerifyNone(t)

	entity := &fakeEntity{}
	var started, stopped int
	m := New(entity, Callbacks{
		OnStart: func() { started++ },
		OnStop:  func(error) { stopped++ },
	})

	m.Start()
	if m.State() != Starting {
		t.Fatalf("expected Starting, got %v", m.State())
	}
	m.NotifyStarted()
	if m.State() != Running {
		t.Fatalf("expected Running, got %v", m.State())
	}
	if started != 1 {
		t.Fatalf("expected one onStart, got %d", started)
	}

	m.Stop()
	if m.State() != Stopping {
		t.Fatalf("expected Stopping, got %v", m.State())
	}
	m.NotifyStopped(nil)
	if m.State() != Idle {
		t.Fatalf("expected Idle, got %v", m.State())
	}
	if stopped != 1 {
		t.Fatalf("expected one onStop, got %d", stopped)
	}
}

func TestStopDuringStartingAutoStopsAfterStarted(t *testing.T) {
	defer goleak.VerifyNone(t)

	entity := &fakeEntity{}
	var stopped int
	m := New(entity, Callbacks{
		OnStop: func(error) { stopped++ },
	})

	m.Start()
	m.Stop() // requested flips to stop while still Starting
	if m.State() != Starting {
		t.Fatalf("expected Starting (stop is deferred), got %v", m.State())
	}
	m.NotifyStarted()
	// NotifyStarted transitions to Running then immediately calls Stop()
	// because requested == intentStop, landing in Stopping.
	if m.State() != Stopping {
		t.Fatalf("expected Stopping after deferred stop fires, got %v", m.State())
	}
	m.NotifyStopped(nil)
	if m.State() != Idle {
		t.Fatalf("expected Idle, got %v", m.State())
	}
}

func TestStartDuringStartingKeepsStartIntent(t *testing.T) {
	defer goleak.VerifyNone(t)

	entity := &fakeEntity{}
	var started, stopped int
	m := New(entity, Callbacks{
		OnStart: func() { started++ },
		OnStop:  func(error) { stopped++ },
	})

	m.Start()
	m.Stop()  // requested flips to stop while still Starting
	m.Start() // and back to start before the entity reports in
	if m.State() != Starting {
		t.Fatalf("expected Starting, got %v", m.State())
	}
	m.NotifyStarted()
	if m.State() != Running {
		t.Fatalf("expected Running since the last requested intent was start, got %v", m.State())
	}
	if started != 1 {
		t.Fatalf("expected one onStart, got %d", started)
	}
	if stopped != 0 {
		t.Fatalf("expected no onStop, got %d", stopped)
	}
}

func TestStartDuringStoppingRestartsAfterStopped(t *testing.T) {
	defer goleak.VerifyNone(t)

	entity := &fakeEntity{}
	m := New(entity, Callbacks{})

	m.Start()
	m.NotifyStarted()
	m.Stop()
	m.Start() // requested flips back to start while still Stopping
	if m.State() != Stopping {
		t.Fatalf("expected Stopping, got %v", m.State())
	}
	m.NotifyStopped(nil)
	// auto-restart fires because requested == intentStart
	if m.State() != Starting {
		t.Fatalf("expected Starting after auto-restart, got %v", m.State())
	}
}

func TestFailedStartSettlesIdle(t *testing.T) {
	defer goleak.VerifyNone(t)

	entity := &fakeEntity{}
	var failed error
	m := New(entity, Callbacks{
		OnFailedStart: func(err error) { failed = err },
	})

	m.Start()
	m.NotifyFailedStart(errors.New("adapter disabled"))
	if m.State() != Idle {
		t.Fatalf("expected Idle, got %v", m.State())
	}
	if failed == nil {
		t.Fatal("expected onFailedStart to fire")
	}
}

func TestNotifyStoppedWithErrorFromRunningSettlesIdle(t *testing.T) {
	defer goleak.VerifyNone(t)

	entity := &fakeEntity{}
	var stopErr error
	m := New(entity, Callbacks{
		OnStop: func(err error) { stopErr = err },
	})

	m.Start()
	m.NotifyStarted()
	m.NotifyStopped(errors.New("link dropped"))
	if m.State() != Idle {
		t.Fatalf("expected Idle, got %v", m.State())
	}
	if stopErr == nil {
		t.Fatal("expected onStop to carry the error")
	}
}

// Convergence over a fixed list of start/stop/notify_* sequences: if
// the last intent was start the machine eventually reaches Running
// unless a failure notification intervened; if the last intent was stop
// it reaches Idle.
func TestConvergenceAfterEventSequences(t *testing.T) {
	defer goleak.VerifyNone(t)

	seqs := [][]string{
		{"start"},
		{"start", "started"},
		{"start", "started", "stop"},
		{"start", "started", "stop", "stopped"},
		{"start", "stop", "started"},
		{"start", "stop", "started", "stopped"},
		{"start", "stop", "started", "stopped", "start"},
		{"start", "stop", "started", "stopped", "start", "started"},
	}

	for _, seq := range seqs {
		entity := &fakeEntity{}
		m := New(entity, Callbacks{})
		lastIntent := "stop"
		for _, step := range seq {
			switch step {
			case "start":
				lastIntent = "start"
				m.Start()
			case "stop":
				lastIntent = "stop"
				m.Stop()
			case "started":
				m.NotifyStarted()
			case "stopped":
				m.NotifyStopped(nil)
			}
		}
		// Drive the machine to settlement: feed whatever notification the
		// current state is waiting on next, bounded by a handful of steps.
		for i := 0; i < 4; i++ {
			switch m.State() {
			case Starting:
				m.NotifyStarted()
			case Stopping:
				m.NotifyStopped(nil)
			}
		}
		if lastIntent == "start" && m.State() != Running {
			t.Fatalf("seq %v: expected Running, got %v", seq, m.State())
		}
		if lastIntent == "stop" && m.State() != Idle {
			t.Fatalf("seq %v: expected Idle, got %v", seq, m.State())
		}
	}
}
