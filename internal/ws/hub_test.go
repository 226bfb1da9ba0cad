package ws

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/emandor/lemme_grader/internal/grading"
)

type fakeConn struct {
	mu   sync.Mutex
	got  []PayloadEvent
	fail bool
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.got = append(f.got, v.(PayloadEvent))
	return nil
}

func newClient(h *Hub, rooms ...string) (*client, *fakeConn) {
	fc := &fakeConn{}
	cl := &client{conn: fc}
	for _, r := range rooms {
		h.dispatch(cl, []byte(`{"action":"join","room":"`+r+`"}`))
	}
	return cl, fc
}

func TestHubRoutesRunEvents(t *testing.T) {
	h := NewHub(zerolog.Nop())
	_, one := newClient(h, "run.r1")
	_, other := newClient(h, "run.r2")
	_, all := newClient(h, RoomRuns)
	_, both := newClient(h, "run.r1", RoomRuns)

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	h.Emit(grading.Event{Type: grading.EventProgress, RunID: "r1", At: at, Data: grading.Progress{Completed: 1, Total: 3}})

	require.Len(t, one.got, 1)
	require.Empty(t, other.got)
	require.Len(t, all.got, 1)
	require.Len(t, both.got, 1, "a client in two matching rooms gets the event once")

	pl := one.got[0]
	require.Equal(t, EventProgress, pl.Event)
	require.Equal(t, "r1", pl.RunID)
	require.Equal(t, at, pl.At)
	require.Equal(t, grading.Progress{Completed: 1, Total: 3}, pl.Data)
}

func TestHubJoinLeaveAndDrop(t *testing.T) {
	h := NewHub(zerolog.Nop())
	cl, fc := newClient(h, "run.r1", RoomRuns)
	require.Equal(t, 1, h.Subscribers("run.r1"))

	h.dispatch(cl, []byte(`{"action":"leave","room":"run.r1"}`))
	require.Zero(t, h.Subscribers("run.r1"))
	require.Equal(t, 1, h.Subscribers(RoomRuns))

	// garbage and empty rooms are ignored
	h.dispatch(cl, []byte(`not json`))
	h.dispatch(cl, []byte(`{"action":"join","room":""}`))

	h.Emit(grading.Event{Type: grading.EventLog, RunID: "r1", Data: grading.LogEntry{Message: "x"}})
	require.Len(t, fc.got, 1)

	h.drop(cl)
	require.Zero(t, h.Subscribers(RoomRuns))
	h.Emit(grading.Event{Type: grading.EventLog, RunID: "r1"})
	require.Len(t, fc.got, 1)
}

func TestHubSurvivesBrokenClient(t *testing.T) {
	h := NewHub(zerolog.Nop())
	_, bad := newClient(h, RoomRuns)
	bad.fail = true
	_, good := newClient(h, RoomRuns)

	h.Emit(grading.Event{Type: grading.EventTerminal, RunID: "r1", Data: grading.Terminal{Signal: grading.SignalCompleted}})
	require.Len(t, good.got, 1)
	require.Equal(t, EventTerminal, good.got[0].Event)
}

func TestHubIgnoresUnknownEventTypes(t *testing.T) {
	h := NewHub(zerolog.Nop())
	_, fc := newClient(h, RoomRuns)
	h.Emit(grading.Event{Type: "debug", RunID: "r1"})
	require.Empty(t, fc.got)
}
