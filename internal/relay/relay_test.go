package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabrelay/internal/models"
	"collabrelay/internal/session"
	"collabrelay/internal/store"
)

// fakeStore keeps room state in a map so tests can inspect saves directly
// and inject failures per call.
type fakeStore struct {
	mu      sync.Mutex
	states  map[string]store.RoomState
	failAll bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: make(map[string]store.RoomState)}
}

var errStoreDown = errors.New("store unavailable")

func (f *fakeStore) Load(_ context.Context, roomKey string) (store.RoomState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return store.RoomState{RoomKey: roomKey}, errStoreDown
	}
	if state, ok := f.states[roomKey]; ok {
		return state, nil
	}
	return store.RoomState{RoomKey: roomKey}, nil
}

func (f *fakeStore) SaveBinary(_ context.Context, roomKey string, blob []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errStoreDown
	}
	state := f.states[roomKey]
	state.RoomKey = roomKey
	state.BinaryState = blob
	f.states[roomKey] = state
	return nil
}

func (f *fakeStore) SaveText(_ context.Context, roomKey string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errStoreDown
	}
	state := f.states[roomKey]
	state.RoomKey = roomKey
	state.TextContent = text
	f.states[roomKey] = state
	return nil
}

func (f *fakeStore) binary(roomKey string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[roomKey].BinaryState
}

func (f *fakeStore) text(roomKey string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[roomKey].TextContent
}

type frame struct {
	messageType int
	payload     []byte
}

type frameCapture struct {
	mu     sync.Mutex
	frames []frame
}

func (c *frameCapture) hook(messageType int, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame{messageType: messageType, payload: payload})
}

func (c *frameCapture) list() []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]frame, len(c.frames))
	copy(out, c.frames)
	return out
}

// decode unmarshals the i-th captured frame into a generic map.
func (c *frameCapture) decode(t *testing.T, i int) map[string]any {
	t.Helper()
	frames := c.list()
	if i >= len(frames) {
		t.Fatalf("frame %d not captured, have %d", i, len(frames))
	}
	var m map[string]any
	if err := json.Unmarshal(frames[i].payload, &m); err != nil {
		t.Fatalf("frame %d not JSON: %v", i, err)
	}
	return m
}

type fixture struct {
	relay    *Relay
	registry *session.Registry
	store    *fakeStore
}

func newFixture() *fixture {
	st := newFakeStore()
	registry := session.NewRegistry(zap.NewNop())
	return &fixture{
		relay:    New(registry, st, zap.NewNop()),
		registry: registry,
		store:    st,
	}
}

func (f *fixture) join(t *testing.T, roomKey, username string) (*session.Session, *frameCapture) {
	t.Helper()
	s := session.New(nil, models.Identity{UserID: username + "-id", Username: username}, roomKey, zap.NewNop())
	capture := &frameCapture{}
	s.SetDeliverHook(capture.hook)
	f.relay.OnJoin(context.Background(), s)
	return s, capture
}

func TestJoinEmptyRoomDeliversNothing(t *testing.T) {
	f := newFixture()
	_, capture := f.join(t, "abc", "alice")
	if got := capture.list(); len(got) != 0 {
		t.Fatalf("joining an empty room must deliver nothing, got %#v", got)
	}
}

func TestJoinAnnouncedToPeersOnly(t *testing.T) {
	f := newFixture()
	_, aCap := f.join(t, "abc", "alice")
	_, bCap := f.join(t, "abc", "bob")

	got := aCap.decode(t, 0)
	if got["type"] != models.EventUserJoined || got["username"] != "bob" {
		t.Fatalf("unexpected join notice: %#v", got)
	}
	if len(bCap.list()) != 0 {
		t.Fatalf("joiner must not receive its own join notice, got %#v", bCap.list())
	}
}

func TestJoinDeliversPersistedBinaryFirst(t *testing.T) {
	f := newFixture()
	blob := []byte{0x01, 0x02}
	if err := f.store.SaveBinary(context.Background(), "abc", blob); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	_, capture := f.join(t, "abc", "carol")

	got := capture.list()
	if len(got) != 1 {
		t.Fatalf("expected exactly the persisted state, got %d frames", len(got))
	}
	if got[0].messageType != websocket.BinaryMessage || !bytes.Equal(got[0].payload, blob) {
		t.Fatalf("expected persisted blob as first binary frame, got %#v", got[0])
	}
}

func TestJoinDeliversTextWhenNoBinary(t *testing.T) {
	f := newFixture()
	if err := f.store.SaveText(context.Background(), "abc", "hello"); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	_, capture := f.join(t, "abc", "carol")

	got := capture.decode(t, 0)
	if got["text"] != "hello" {
		t.Fatalf("expected wrapped text content, got %#v", got)
	}
	if len(capture.list()) != 1 {
		t.Fatalf("expected a single frame")
	}
}

func TestJoinBinaryTakesPrecedenceOverText(t *testing.T) {
	f := newFixture()
	_ = f.store.SaveBinary(context.Background(), "abc", []byte{0x09})
	_ = f.store.SaveText(context.Background(), "abc", "stale")

	_, capture := f.join(t, "abc", "carol")

	got := capture.list()
	if len(got) != 1 || got[0].messageType != websocket.BinaryMessage {
		t.Fatalf("binary state must win over text, got %#v", got)
	}
}

func TestBinaryUpdatePersistsAndBroadcastsWithoutEcho(t *testing.T) {
	f := newFixture()
	a, aCap := f.join(t, "abc", "alice")
	_, bCap := f.join(t, "abc", "bob")
	aCapBefore := len(aCap.list()) // the user_joined notice for bob

	blob := []byte{0x01, 0x02}
	f.relay.Dispatch(context.Background(), a, blob, true)

	if !bytes.Equal(f.store.binary("abc"), blob) {
		t.Fatalf("blob not persisted: %v", f.store.binary("abc"))
	}
	got := bCap.list()
	if len(got) != 1 || got[0].messageType != websocket.BinaryMessage || !bytes.Equal(got[0].payload, blob) {
		t.Fatalf("peer missing binary frame: %#v", got)
	}
	if len(aCap.list()) != aCapBefore {
		t.Fatalf("sender must not receive its own update back")
	}
}

func TestSnapshotPersistsWithoutBroadcast(t *testing.T) {
	f := newFixture()
	a, _ := f.join(t, "abc", "alice")
	_, bCap := f.join(t, "abc", "bob")
	before := len(bCap.list())

	f.relay.Dispatch(context.Background(), a, []byte(`{"type":"snapshot","state":"AQI="}`), false)

	if !bytes.Equal(f.store.binary("abc"), []byte{0x01, 0x02}) {
		t.Fatalf("snapshot not persisted: %v", f.store.binary("abc"))
	}
	if len(bCap.list()) != before {
		t.Fatalf("snapshot must not be broadcast, peer got %#v", bCap.list())
	}
}

func TestSnapshotBadBase64IsDropped(t *testing.T) {
	f := newFixture()
	a, _ := f.join(t, "abc", "alice")
	_, bCap := f.join(t, "abc", "bob")
	before := len(bCap.list())

	f.relay.Dispatch(context.Background(), a, []byte(`{"type":"snapshot","state":"!!!"}`), false)

	if f.store.binary("abc") != nil {
		t.Fatalf("undecodable snapshot must not persist")
	}
	if len(bCap.list()) != before {
		t.Fatalf("undecodable snapshot must not be broadcast")
	}
}

func TestSnapshotEmptyStateDoesNotWipePersistedState(t *testing.T) {
	f := newFixture()
	seed := []byte{0x07, 0x08}
	if err := f.store.SaveBinary(context.Background(), "abc", seed); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	a, _ := f.join(t, "abc", "alice")
	_, bCap := f.join(t, "abc", "bob")
	before := len(bCap.list())

	f.relay.Dispatch(context.Background(), a, []byte(`{"type":"snapshot"}`), false)

	if !bytes.Equal(f.store.binary("abc"), seed) {
		t.Fatalf("empty snapshot must not overwrite persisted state, got %v", f.store.binary("abc"))
	}
	if len(bCap.list()) != before {
		t.Fatalf("empty snapshot must not be broadcast")
	}
}

func TestTextUpdatePersistsAndBroadcastsVerbatim(t *testing.T) {
	f := newFixture()
	a, _ := f.join(t, "abc", "alice")
	_, bCap := f.join(t, "abc", "bob")
	before := len(bCap.list())

	raw := []byte(`{"text":"hello"}`)
	f.relay.Dispatch(context.Background(), a, raw, false)

	if f.store.text("abc") != "hello" {
		t.Fatalf("text content not persisted: %q", f.store.text("abc"))
	}
	got := bCap.list()
	if len(got) != before+1 || !bytes.Equal(got[before].payload, raw) {
		t.Fatalf("peer must receive the raw text verbatim, got %#v", got)
	}
}

func TestAwarenessBroadcastsButNeverPersists(t *testing.T) {
	f := newFixture()
	a, _ := f.join(t, "abc", "alice")
	_, bCap := f.join(t, "abc", "bob")
	before := len(bCap.list())

	f.relay.Dispatch(context.Background(), a, []byte(`{"type":"awareness","data":{"cursor":3}}`), false)

	got := bCap.decode(t, before)
	if got["type"] != models.EventAwarenessUpdate || got["username"] != "alice" {
		t.Fatalf("unexpected awareness update: %#v", got)
	}
	data, _ := got["data"].(map[string]any)
	if data["cursor"] != float64(3) {
		t.Fatalf("awareness data not forwarded: %#v", got["data"])
	}
	if f.store.binary("abc") != nil || f.store.text("abc") != "" {
		t.Fatalf("awareness must never persist")
	}
}

func TestRequestStateBroadcastsRequesterChannel(t *testing.T) {
	f := newFixture()
	a, aCap := f.join(t, "abc", "alice")
	_, bCap := f.join(t, "abc", "bob")
	aBefore, bBefore := len(aCap.list()), len(bCap.list())

	f.relay.Dispatch(context.Background(), a, []byte(`{"type":"request_state"}`), false)

	got := bCap.decode(t, bBefore)
	if got["type"] != models.EventStateRequest || got["requester_channel"] != a.ID {
		t.Fatalf("unexpected state request: %#v", got)
	}
	if len(aCap.list()) != aBefore {
		t.Fatalf("requester must not receive its own state request")
	}
}

func TestFullStateUnicastsToTarget(t *testing.T) {
	f := newFixture()
	a, _ := f.join(t, "abc", "alice")
	b, bCap := f.join(t, "abc", "bob")
	_, cCap := f.join(t, "abc", "carol")
	bBefore, cBefore := len(bCap.list()), len(cCap.list())

	payload := []byte(`{"type":"full_state","state_vector":"QUI=","target":"` + b.ID + `"}`)
	f.relay.Dispatch(context.Background(), a, payload, false)

	got := bCap.decode(t, bBefore)
	if got["type"] != models.EventStateSync || got["state_vector"] != "QUI=" {
		t.Fatalf("unexpected state sync: %#v", got)
	}
	if len(cCap.list()) != cBefore {
		t.Fatalf("full_state must be unicast, not broadcast")
	}
}

func TestFullStateMissingTargetIsDropped(t *testing.T) {
	f := newFixture()
	a, _ := f.join(t, "abc", "alice")
	_, bCap := f.join(t, "abc", "bob")
	before := len(bCap.list())

	f.relay.Dispatch(context.Background(), a, []byte(`{"type":"full_state","state_vector":"QUI="}`), false)

	if len(bCap.list()) != before {
		t.Fatalf("full_state without target must be dropped silently")
	}
}

func TestFullStateUnknownTargetIsDropped(t *testing.T) {
	f := newFixture()
	a, _ := f.join(t, "abc", "alice")
	_, bCap := f.join(t, "abc", "bob")
	before := len(bCap.list())

	f.relay.Dispatch(context.Background(), a,
		[]byte(`{"type":"full_state","state_vector":"QUI=","target":"gone"}`), false)

	if len(bCap.list()) != before {
		t.Fatalf("full_state to an unknown target must be dropped")
	}
}

func TestMalformedJSONFallsThroughToVerbatimBroadcast(t *testing.T) {
	f := newFixture()
	a, _ := f.join(t, "abc", "alice")
	_, bCap := f.join(t, "abc", "bob")
	before := len(bCap.list())

	raw := []byte(`{broken`)
	f.relay.Dispatch(context.Background(), a, raw, false)

	got := bCap.list()
	if len(got) != before+1 || !bytes.Equal(got[before].payload, raw) {
		t.Fatalf("malformed JSON must still broadcast verbatim, got %#v", got)
	}
}

func TestPersistenceFailureDoesNotBlockBroadcast(t *testing.T) {
	f := newFixture()
	a, _ := f.join(t, "abc", "alice")
	_, bCap := f.join(t, "abc", "bob")
	before := len(bCap.list())

	f.store.failAll = true
	blob := []byte{0xDE, 0xAD}
	f.relay.Dispatch(context.Background(), a, blob, true)

	got := bCap.list()
	if len(got) != before+1 || !bytes.Equal(got[before].payload, blob) {
		t.Fatalf("broadcast must proceed despite persistence failure, got %#v", got)
	}
}

func TestJoinSurvivesStoreFailure(t *testing.T) {
	f := newFixture()
	f.store.failAll = true

	_, capture := f.join(t, "abc", "alice")
	if len(capture.list()) != 0 {
		t.Fatalf("join with a failing store delivers nothing, got %#v", capture.list())
	}
	if f.registry.RoomSize("abc") != 1 {
		t.Fatalf("session must still be registered after store failure")
	}
}

func TestLeaveAnnouncesAndDeregisters(t *testing.T) {
	f := newFixture()
	a, aCap := f.join(t, "abc", "alice")
	_, bCap := f.join(t, "abc", "bob")
	aBefore, bBefore := len(aCap.list()), len(bCap.list())

	f.relay.OnLeave(a)

	got := bCap.decode(t, bBefore)
	if got["type"] != models.EventUserLeft || got["username"] != "alice" {
		t.Fatalf("unexpected leave notice: %#v", got)
	}
	if len(aCap.list()) != aBefore {
		t.Fatalf("leaver must not receive its own leave notice")
	}
	if f.registry.RoomSize("abc") != 1 {
		t.Fatalf("expected one remaining member")
	}
}

func TestDoubleLeaveIsIdempotent(t *testing.T) {
	f := newFixture()
	a, _ := f.join(t, "abc", "alice")
	_, bCap := f.join(t, "abc", "bob")

	f.relay.OnLeave(a)
	after := len(bCap.list())
	f.relay.OnLeave(a)

	if len(bCap.list()) != after {
		t.Fatalf("second leave must not announce again")
	}
}

func TestRejoinIsAFreshSession(t *testing.T) {
	f := newFixture()
	a, _ := f.join(t, "abc", "alice")
	_, bCap := f.join(t, "abc", "bob")
	f.relay.OnLeave(a)
	before := len(bCap.list())

	_, a2Cap := f.join(t, "abc", "alice")

	got := bCap.decode(t, before)
	if got["type"] != models.EventUserJoined || got["username"] != "alice" {
		t.Fatalf("rejoin must run the full join sequence: %#v", got)
	}
	if len(a2Cap.list()) != 0 {
		t.Fatalf("fresh session joins an empty-state room silently")
	}
}

func TestBroadcastIsolationAcrossRooms(t *testing.T) {
	f := newFixture()
	a, _ := f.join(t, "r1", "alice")
	other := session.New(nil, models.Identity{Username: "eve"}, "r2", zap.NewNop())
	other.SetDeliverHook(func(int, []byte) { t.Fatal("message leaked into another room") })
	f.relay.OnJoin(context.Background(), other)

	f.relay.Dispatch(context.Background(), a, []byte{0x01}, true)
}
