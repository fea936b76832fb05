package clock

import (
	"testing"
	"time"
)

func TestNow_ReturnsCurrentTime(t *testing.T) {
	before := time.Now()
	result := Now()
	after := time.Now()

	if result.Before(before) || result.After(after) {
		t.Errorf("Now() returned %v, expected between %v and %v", result, before, after)
	}
}

func TestMockClock_Advance(t *testing.T) {
	mockTime := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	mock := NewMockClock(mockTime)

	first := mock.Now()
	mock.Advance(time.Hour)
	second := mock.Now()

	if !second.Equal(mockTime.Add(time.Hour)) {
		t.Errorf("After Advance, Now() = %v, expected %v", second, mockTime.Add(time.Hour))
	}
	if !first.Equal(mockTime) {
		t.Errorf("Before Advance, Now() = %v, expected %v", first, mockTime)
	}
}

func TestMockClock_SinceUntil(t *testing.T) {
	mockTime := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	mock := NewMockClock(mockTime)

	if got := mock.Since(mockTime.Add(-time.Hour)); got != time.Hour {
		t.Errorf("Since() = %v, expected 1h", got)
	}
	if got := mock.Until(mockTime.Add(time.Hour)); got != time.Hour {
		t.Errorf("Until() = %v, expected 1h", got)
	}
}

func TestMockClock_After(t *testing.T) {
	mock := NewMockClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))

	ch := mock.After(5 * time.Second)
	if mock.Waiters() != 1 {
		t.Fatalf("expected 1 waiter, got %d", mock.Waiters())
	}

	mock.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}

	mock.Advance(time.Second)
	select {
	case fired := <-ch:
		if !fired.Equal(mock.Now()) {
			t.Errorf("After delivered %v, expected %v", fired, mock.Now())
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}

	if mock.Waiters() != 0 {
		t.Errorf("expected waiters to drain, got %d", mock.Waiters())
	}
}

func TestMockClock_AfterZero(t *testing.T) {
	mock := NewMockClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))

	select {
	case <-mock.After(0):
	default:
		t.Fatal("After(0) should fire immediately")
	}
	if mock.Waiters() != 0 {
		t.Errorf("After(0) should not register a waiter")
	}
}

func TestMockClock_SetFiresWaiters(t *testing.T) {
	start := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	mock := NewMockClock(start)

	early := mock.After(time.Second)
	late := mock.After(time.Hour)

	mock.Set(start.Add(time.Minute))

	select {
	case <-early:
	default:
		t.Error("early waiter should have fired")
	}
	select {
	case <-late:
		t.Error("late waiter should still be pending")
	default:
	}
}

func TestMockClock_BlockUntilWaiters(t *testing.T) {
	mock := NewMockClock(time.Now())

	go func() {
		time.Sleep(5 * time.Millisecond)
		mock.After(time.Second)
	}()

	if !mock.BlockUntilWaiters(1, time.Second) {
		t.Fatal("BlockUntilWaiters timed out")
	}
}

func TestOr(t *testing.T) {
	if Or(nil) != Default {
		t.Error("Or(nil) should return Default")
	}
	mock := NewMockClock(time.Now())
	if Or(mock) != Clock(mock) {
		t.Error("Or(mock) should return mock")
	}
}

func TestClockInterface(t *testing.T) {
	var _ Clock = &RealClock{}
	var _ Clock = &MockClock{}
}

func TestRealClock_After(t *testing.T) {
	c := &RealClock{}
	select {
	case <-c.After(time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("RealClock.After did not fire")
	}
}
