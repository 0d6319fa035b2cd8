package transport

import (
	"errors"
	"testing"
)

func TestStateMachine_TransitionFiresListeners(t *testing.T) {
	sm := newStateMachine()
	var got []StateChange
	sm.onChange(func(c StateChange) { got = append(got, c) })

	sm.transition(Connecting, nil)
	sm.transition(Connected, nil)

	if len(got) != 2 {
		t.Fatalf("got %d state changes, want 2", len(got))
	}
	if got[0].Previous != Disconnected || got[0].Current != Connecting {
		t.Errorf("first transition = %+v", got[0])
	}
	if got[1].Previous != Connecting || got[1].Current != Connected {
		t.Errorf("second transition = %+v", got[1])
	}
	if sm.get() != Connected {
		t.Errorf("get() = %v, want Connected", sm.get())
	}
}

func TestStateMachine_RecordsError(t *testing.T) {
	sm := newStateMachine()
	var got StateChange
	sm.onChange(func(c StateChange) { got = c })

	wantErr := errors.New("dial failed")
	sm.transition(Reconnecting, wantErr)

	if got.Err != wantErr {
		t.Errorf("Err = %v, want %v", got.Err, wantErr)
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		Disconnected:  "disconnected",
		Connecting:    "connecting",
		Connected:     "connected",
		Disconnecting: "disconnecting",
		Reconnecting:  "reconnecting",
		Closed:        "closed",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
