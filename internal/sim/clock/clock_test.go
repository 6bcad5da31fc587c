package clock

import "testing"

func TestManager_Increment(t *testing.T) {
	m := NewManager(0.5)
	if r := m.Read(); r.Step != 0 || r.Now != 0 || r.LastStepDuration != 0.5 {
		t.Fatalf("initial reading: %+v", r)
	}
	m.Increment()
	m.Increment()
	if got := m.Now(); got != 1.0 {
		t.Fatalf("now=%v want 1", got)
	}
	if got := m.Step(); got != 2 {
		t.Fatalf("step=%d want 2", got)
	}
}

func TestManager_ZeroDuration(t *testing.T) {
	m := NewManager(-3)
	m.Increment()
	if m.Now() != 0 || m.LastStepDuration() != 0 || m.Step() != 1 {
		t.Fatalf("unexpected reading: %+v", m.Read())
	}
}

func TestManager_Restore(t *testing.T) {
	m := NewManager(1)
	m.Restore(41, 41)
	m.Increment()
	if r := m.Read(); r.Step != 42 || r.Now != 42 {
		t.Fatalf("restored reading: %+v", r)
	}
}
