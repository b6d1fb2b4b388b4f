package relay

import (
	"errors"
	"testing"
)

func TestLifecycle_PartialsThenSingleFinal(t *testing.T) {
	l := NewLifecycle()

	for i := 0; i < 3; i++ {
		if err := l.EmitPartial(); err != nil {
			t.Fatalf("partial %d: %v", i, err)
		}
	}
	if err := l.EmitFinal(); err != nil {
		t.Fatalf("final: %v", err)
	}
	if got := l.State(); got != UtteranceFinalEmitted {
		t.Errorf("state = %v, want FINAL_EMITTED", got)
	}
	if err := l.EmitFinal(); !errors.Is(err, ErrFinalAlreadyEmitted) {
		t.Errorf("second final = %v, want ErrFinalAlreadyEmitted", err)
	}
}

func TestLifecycle_PartialAfterFinalOpensNextUtterance(t *testing.T) {
	l := NewLifecycle()

	if err := l.EmitFinal(); err != nil {
		t.Fatalf("final: %v", err)
	}
	if err := l.EmitPartial(); err != nil {
		t.Fatalf("partial after final: %v", err)
	}
	if got := l.State(); got != UtteranceOpen {
		t.Errorf("state = %v, want OPEN", got)
	}
	if err := l.EmitFinal(); err != nil {
		t.Fatalf("final of second utterance: %v", err)
	}
	if got := l.Utterances(); got != 2 {
		t.Errorf("utterances = %d, want 2", got)
	}
}

func TestLifecycle_DropBlocksFinal(t *testing.T) {
	l := NewLifecycle()
	l.EmitPartial()

	if !l.Drop() {
		t.Fatal("Drop returned false on open lifecycle")
	}
	if err := l.EmitFinal(); !errors.Is(err, ErrUtteranceClosed) {
		t.Errorf("final after drop = %v, want ErrUtteranceClosed", err)
	}
	// A fresh backend call resumes with a new utterance.
	if err := l.EmitPartial(); err != nil {
		t.Errorf("partial after drop = %v, want nil", err)
	}
}

func TestLifecycle_CloseIsTerminal(t *testing.T) {
	l := NewLifecycle()
	l.Close()

	if err := l.EmitPartial(); !errors.Is(err, ErrUtteranceClosed) {
		t.Errorf("partial after close = %v, want ErrUtteranceClosed", err)
	}
	if err := l.EmitFinal(); !errors.Is(err, ErrUtteranceClosed) {
		t.Errorf("final after close = %v, want ErrUtteranceClosed", err)
	}
	if l.Drop() {
		t.Error("Drop after close returned true")
	}
}

func TestUtteranceStateString(t *testing.T) {
	cases := []struct {
		state UtteranceState
		want  string
	}{
		{UtteranceOpen, "OPEN"},
		{UtteranceFinalEmitted, "FINAL_EMITTED"},
		{UtteranceDropped, "DROPPED"},
		{UtteranceClosed, "CLOSED"},
		{UtteranceState(42), "UNKNOWN(42)"},
	}
	for _, c := range cases {
		if got := c.state.String(); got != c.want {
			t.Errorf("String(%d) = %q, want %q", c.state, got, c.want)
		}
	}
}
