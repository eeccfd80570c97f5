package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pleb5/flotilla-budabit-sub001/internal/capture"
	"github.com/Pleb5/flotilla-budabit-sub001/internal/transport"
	"github.com/Pleb5/flotilla-budabit-sub001/pkg/protocol"
)

const relayURL = "wss://relay.test"

func newSim() *Simulator {
	return New(Config{InterceptPatterns: []string{"*"}})
}

func mkEvent(kind int, createdAt int64, content string) *protocol.Event {
	ev := &protocol.Event{
		PubKey:    "f7234bd4c1394dda46d09f35bd384dd30cc552ad5541990f98844fb06676e9ca",
		CreatedAt: createdAt,
		Kind:      kind,
		Tags:      []protocol.Tag{},
		Content:   content,
	}
	ev.ID = ev.ComputeID()
	return ev
}

// decoded is one parsed relay-to-client frame.
type decoded struct {
	label string
	subID string
	event *protocol.Event
	bytes []byte
}

func decodeFrame(t *testing.T, frame []byte) decoded {
	t.Helper()
	var arr []json.RawMessage
	require.NoError(t, json.Unmarshal(frame, &arr))
	require.NotEmpty(t, arr)
	var d decoded
	d.bytes = frame
	require.NoError(t, json.Unmarshal(arr[0], &d.label))
	switch d.label {
	case protocol.LabelEvent:
		require.Len(t, arr, 3)
		require.NoError(t, json.Unmarshal(arr[1], &d.subID))
		d.event = &protocol.Event{}
		require.NoError(t, json.Unmarshal(arr[2], d.event))
	case protocol.LabelEOSE:
		require.NoError(t, json.Unmarshal(arr[1], &d.subID))
	}
	return d
}

func drainDecoded(t *testing.T, p *Pipe) []decoded {
	t.Helper()
	var out []decoded
	for _, frame := range p.Drain() {
		out = append(out, decodeFrame(t, frame))
	}
	return out
}

func req(subID string, filters ...protocol.Filter) []byte {
	parts := []interface{}{"REQ", subID}
	for _, f := range filters {
		parts = append(parts, f)
	}
	data, _ := json.Marshal(parts)
	return data
}

func eventFrame(ev *protocol.Event) []byte {
	data, _ := json.Marshal([]interface{}{"EVENT", ev})
	return data
}

func closeFrame(subID string) []byte {
	data, _ := json.Marshal([]interface{}{"CLOSE", subID})
	return data
}

func TestSimulator_ReqReplaysBacklogThenEOSE(t *testing.T) {
	sim := newSim()
	defer sim.Close()

	var seeded []*protocol.Event
	for i := 0; i < 3; i++ {
		seeded = append(seeded, mkEvent(1621, int64(100+i), fmt.Sprintf("issue %d", i)))
	}
	require.NoError(t, sim.SeedEvents(seeded))

	_, pipe := sim.OpenPipe(relayURL)
	defer pipe.Close()

	pipe.Send(req("sub-1", protocol.Filter{Kinds: []int{1621}}))

	frames := drainDecoded(t, pipe)
	require.Len(t, frames, 4, "three backlog events plus EOSE")
	for i := 0; i < 3; i++ {
		assert.Equal(t, protocol.LabelEvent, frames[i].label)
		assert.Equal(t, "sub-1", frames[i].subID)
	}
	// Most recent first.
	assert.Equal(t, int64(102), frames[0].event.CreatedAt)
	assert.Equal(t, int64(100), frames[2].event.CreatedAt)
	assert.Equal(t, protocol.LabelEOSE, frames[3].label)
	assert.Equal(t, "sub-1", frames[3].subID)
}

func TestSimulator_BacklogHonorsLimit(t *testing.T) {
	sim := newSim()
	defer sim.Close()

	var seeded []*protocol.Event
	for i := 0; i < 5; i++ {
		seeded = append(seeded, mkEvent(1617, int64(200+i), fmt.Sprintf("patch %d", i)))
	}
	require.NoError(t, sim.SeedEvents(seeded))

	_, pipe := sim.OpenPipe(relayURL)
	defer pipe.Close()

	limit := 2
	pipe.Send(req("sub-1", protocol.Filter{Kinds: []int{1617}, Limit: &limit}))

	frames := drainDecoded(t, pipe)
	require.Len(t, frames, 3, "two most recent events plus EOSE")
	assert.Equal(t, int64(204), frames[0].event.CreatedAt)
	assert.Equal(t, int64(203), frames[1].event.CreatedAt)
	assert.Equal(t, protocol.LabelEOSE, frames[2].label)
}

func TestSimulator_NegativeLimitYieldsEmptyBacklog(t *testing.T) {
	sim := newSim()
	defer sim.Close()

	require.NoError(t, sim.SeedEvents([]*protocol.Event{mkEvent(1621, 100, "issue")}))

	_, pipe := sim.OpenPipe(relayURL)
	defer pipe.Close()

	// A hostile or buggy client can put any integer on the wire.
	limit := -1
	pipe.Send(req("sub-1", protocol.Filter{Kinds: []int{1621}, Limit: &limit}))

	frames := drainDecoded(t, pipe)
	require.Len(t, frames, 1, "no backlog, just the end marker")
	assert.Equal(t, protocol.LabelEOSE, frames[0].label)
}

func TestSimulator_LiveFanOutMatchesKinds(t *testing.T) {
	sim := newSim()
	defer sim.Close()

	_, pipe := sim.OpenPipe(relayURL)
	defer pipe.Close()

	pipe.Send(req("issues", protocol.Filter{Kinds: []int{1621}}))
	pipe.Send(req("patches", protocol.Filter{Kinds: []int{1617}}))
	pipe.Drain() // EOSE markers

	require.NoError(t, sim.InjectEvents([]*protocol.Event{mkEvent(1621, 300, "new issue")}))

	frames := drainDecoded(t, pipe)
	require.Len(t, frames, 1, "one frame to the matching subscription, zero to the disjoint one")
	assert.Equal(t, protocol.LabelEvent, frames[0].label)
	assert.Equal(t, "issues", frames[0].subID)
	assert.Equal(t, "new issue", frames[0].event.Content)
}

func TestSimulator_FanOutReachesEverySession(t *testing.T) {
	sim := newSim()
	defer sim.Close()

	_, pipeA := sim.OpenPipe("wss://relay-a.test")
	defer pipeA.Close()
	_, pipeB := sim.OpenPipe("wss://relay-b.test")
	defer pipeB.Close()

	pipeA.Send(req("sub-a", protocol.Filter{Kinds: []int{1621}}))
	pipeB.Send(req("sub-b", protocol.Filter{Kinds: []int{1621}}))
	pipeA.Drain()
	pipeB.Drain()

	require.NoError(t, sim.InjectEvents([]*protocol.Event{mkEvent(1621, 300, "shared")}))

	framesA := drainDecoded(t, pipeA)
	framesB := drainDecoded(t, pipeB)
	require.Len(t, framesA, 1)
	require.Len(t, framesB, 1)
	assert.Equal(t, "sub-a", framesA[0].subID)
	assert.Equal(t, "sub-b", framesB[0].subID)
}

func TestSimulator_OverlappingFiltersDeliverOneFrame(t *testing.T) {
	sim := newSim()
	defer sim.Close()

	_, pipe := sim.OpenPipe(relayURL)
	defer pipe.Close()

	// Both filters match the injected event; the subscription still
	// gets it once.
	pipe.Send(req("sub-1",
		protocol.Filter{Kinds: []int{1621}},
		protocol.Filter{Authors: []string{"author-1"}},
	))
	pipe.Drain() // EOSE

	ev := mkEvent(1621, 300, "overlap")
	ev.PubKey = "author-1"
	ev.ID = ev.ComputeID()
	require.NoError(t, sim.InjectEvents([]*protocol.Event{ev}))

	frames := drainDecoded(t, pipe)
	require.Len(t, frames, 1, "an event matching several filters of one subscription arrives once")
	assert.Equal(t, "sub-1", frames[0].subID)
	assert.Equal(t, "overlap", frames[0].event.Content)
}

func TestSimulator_CloseIsTerminal(t *testing.T) {
	sim := newSim()
	defer sim.Close()

	_, pipe := sim.OpenPipe(relayURL)
	defer pipe.Close()

	pipe.Send(req("sub-1", protocol.Filter{Kinds: []int{1621}}))
	pipe.Drain()
	pipe.Send(closeFrame("sub-1"))

	require.NoError(t, sim.InjectEvents([]*protocol.Event{mkEvent(1621, 300, "late")}))

	assert.Empty(t, pipe.Drain(), "no frame may reach a closed subscription")
}

func TestSimulator_ReopenReplacesFilters(t *testing.T) {
	sim := newSim()
	defer sim.Close()

	_, pipe := sim.OpenPipe(relayURL)
	defer pipe.Close()

	pipe.Send(req("sub-1", protocol.Filter{Kinds: []int{1621}}))
	pipe.Drain()
	pipe.Send(req("sub-1", protocol.Filter{Kinds: []int{1617}}))
	pipe.Drain()

	require.NoError(t, sim.InjectEvents([]*protocol.Event{
		mkEvent(1621, 300, "old interest"),
		mkEvent(1617, 301, "new interest"),
	}))

	frames := drainDecoded(t, pipe)
	require.Len(t, frames, 1)
	assert.Equal(t, "new interest", frames[0].event.Content)
}

func TestSimulator_PublishCapturesAndAcks(t *testing.T) {
	sim := newSim()
	defer sim.Close()

	_, pipe := sim.OpenPipe(relayURL)
	defer pipe.Close()

	ev := mkEvent(1617, 400, "my patch")
	pipe.Send(eventFrame(ev))

	frames := drainDecoded(t, pipe)
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.LabelOK, frames[0].label)
	assert.JSONEq(t, fmt.Sprintf(`["OK",%q,true,""]`, ev.ID), string(frames[0].bytes))

	published := sim.GetPublishedEvents()
	require.Len(t, published, 1)
	assert.Equal(t, ev.ID, published[0].ID)
	assert.Len(t, sim.GetPublishedEventsByKind(1617), 1)
	assert.Empty(t, sim.GetPublishedEventsByKind(1621))

	// The publish also entered the store.
	assert.Len(t, sim.StoredEvents(), 1)
}

func TestSimulator_PublishEchoesToOtherSubscriptions(t *testing.T) {
	sim := newSim()
	defer sim.Close()

	_, publisher := sim.OpenPipe(relayURL)
	defer publisher.Close()
	_, observer := sim.OpenPipe(relayURL)
	defer observer.Close()

	observer.Send(req("watch", protocol.Filter{Kinds: []int{1617}}))
	observer.Drain()

	ev := mkEvent(1617, 400, "my patch")
	publisher.Send(eventFrame(ev))

	frames := drainDecoded(t, observer)
	require.Len(t, frames, 1)
	assert.Equal(t, "watch", frames[0].subID)
	assert.Equal(t, ev.ID, frames[0].event.ID)
}

func TestSimulator_WaitForEventResolvesOnPublish(t *testing.T) {
	sim := newSim()
	defer sim.Close()

	_, pipe := sim.OpenPipe(relayURL)
	defer pipe.Close()

	done := make(chan struct{})
	var got *protocol.Event
	var err error
	go func() {
		got, err = sim.WaitForEvent(context.Background(), 1617, time.Second, nil)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	ev := mkEvent(1617, 400, "my patch")
	start := time.Now()
	pipe.Send(eventFrame(ev))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait did not resolve")
	}
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSimulator_WaitForEventTimesOut(t *testing.T) {
	sim := newSim()
	defer sim.Close()

	start := time.Now()
	_, err := sim.WaitForEvent(context.Background(), 9999, 200*time.Millisecond, nil)
	elapsed := time.Since(start)

	var timeoutErr *capture.WaitTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 9999, timeoutErr.Kind)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 600*time.Millisecond)
}

func TestSimulator_InjectedEventsAreNotPublished(t *testing.T) {
	sim := newSim()
	defer sim.Close()

	require.NoError(t, sim.SeedEvents([]*protocol.Event{mkEvent(1621, 100, "seeded")}))
	require.NoError(t, sim.InjectEvents([]*protocol.Event{mkEvent(1621, 101, "injected")}))

	assert.Empty(t, sim.GetPublishedEvents(), "capture visibility is publish-only")
	assert.Len(t, sim.StoredEvents(), 2)
}

func TestSimulator_MalformedFrameGetsNotice(t *testing.T) {
	sim := newSim()
	defer sim.Close()

	_, pipe := sim.OpenPipe(relayURL)
	defer pipe.Close()

	pipe.Send([]byte(`["REQ","sub-only"]`))
	pipe.Send([]byte(`not json at all`))
	pipe.Send([]byte(`["AUTH","challenge"]`))

	frames := drainDecoded(t, pipe)
	require.Len(t, frames, 3)
	for _, f := range frames {
		assert.Equal(t, protocol.LabelNotice, f.label)
	}
	assert.Equal(t, int64(3), sim.Stats().MalformedFrames)
}

func TestSimulator_SeedingDanglingReferencesAccepted(t *testing.T) {
	sim := newSim()
	defer sim.Close()

	// A status event referencing a patch id nobody seeded: the store
	// takes it without complaint.
	ev := mkEvent(1630, 100, "")
	ev.Tags = []protocol.Tag{protocol.MustTag("e", "does-not-exist")}
	ev.ID = ev.ComputeID()

	require.NoError(t, sim.SeedEvents([]*protocol.Event{ev}))
	assert.Len(t, sim.StoredEvents(), 1)
}

func TestSimulator_Hooks(t *testing.T) {
	sim := newSim()
	defer sim.Close()

	var subs []string
	var pubs []string
	sim.OnSubscribe(func(_ *transport.Session, subID string, _ protocol.Filters) {
		subs = append(subs, subID)
	})
	sim.OnPublish(func(ev *protocol.Event) {
		pubs = append(pubs, ev.ID)
	})

	_, pipe := sim.OpenPipe(relayURL)
	defer pipe.Close()

	pipe.Send(req("sub-1", protocol.Filter{}))
	ev := mkEvent(1617, 400, "p")
	pipe.Send(eventFrame(ev))

	assert.Equal(t, []string{"sub-1"}, subs)
	assert.Equal(t, []string{ev.ID}, pubs)
}

func TestSimulator_ResetRestoresZeroState(t *testing.T) {
	sim := newSim()
	defer sim.Close()

	require.NoError(t, sim.SeedEvents([]*protocol.Event{mkEvent(1621, 100, "seeded")}))
	sess, pipe := sim.OpenPipe(relayURL)
	pipe.Send(req("sub-1", protocol.Filter{}))
	pipe.Send(eventFrame(mkEvent(1617, 400, "published")))

	waitErr := make(chan error, 1)
	go func() {
		_, err := sim.WaitForEvent(context.Background(), 9999, 5*time.Second, nil)
		waitErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	sim.Reset()

	assert.Empty(t, sim.GetPublishedEvents())
	assert.Empty(t, sim.StoredEvents())
	assert.Empty(t, sim.Sessions())
	assert.True(t, sess.Closed())

	select {
	case err := <-waitErr:
		assert.True(t, errors.Is(err, capture.ErrWaitCancelled))
	case <-time.After(time.Second):
		t.Fatal("reset did not release the pending wait")
	}

	// The simulator is reusable after reset, starting from seeding mode.
	require.NoError(t, sim.SeedEvents([]*protocol.Event{mkEvent(1621, 500, "fresh")}))
	_, pipe2 := sim.OpenPipe(relayURL)
	defer pipe2.Close()
	pipe2.Send(req("sub-1", protocol.Filter{Kinds: []int{1621}}))
	frames := drainDecoded(t, pipe2)
	require.Len(t, frames, 2)
	assert.Equal(t, "fresh", frames[0].event.Content)
}

func TestSimulator_Intercepts(t *testing.T) {
	sim := New(Config{InterceptPatterns: []string{"relay.test:443"}})
	defer sim.Close()

	assert.True(t, sim.Intercepts("wss://relay.test"))
	assert.False(t, sim.Intercepts("wss://other.test"))
}

func TestSimulator_Stats(t *testing.T) {
	sim := newSim()
	defer sim.Close()

	require.NoError(t, sim.SeedEvents([]*protocol.Event{mkEvent(1621, 100, "seeded")}))
	_, pipe := sim.OpenPipe(relayURL)
	defer pipe.Close()
	pipe.Send(req("sub-1", protocol.Filter{Kinds: []int{1621}}))
	pipe.Send(eventFrame(mkEvent(1617, 400, "published")))

	stats := sim.Stats()
	assert.Equal(t, int64(1), stats.SessionsOpened)
	assert.Equal(t, int64(2), stats.EventsStored)
	assert.Equal(t, int64(1), stats.EventsPublished)
	assert.Equal(t, int64(1), stats.FramesDelivered)
	assert.Equal(t, int64(0), stats.MalformedFrames)
}
