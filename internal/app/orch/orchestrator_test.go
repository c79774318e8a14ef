package orch

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Rendezvous/internal/app"
	"github.com/dkeye/Rendezvous/internal/app/turn"
	"github.com/dkeye/Rendezvous/internal/core"
	"github.com/dkeye/Rendezvous/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	to      core.SessionID
	event   string
	payload any
}

// fakeTransport keeps groups like the websocket hub does and records every
// delivery, expanding broadcasts into one delivery per recipient.
type fakeTransport struct {
	mu         sync.Mutex
	connected  map[core.SessionID]bool
	groups     map[domain.RoomID]map[core.SessionID]struct{}
	deliveries []delivery
}

func newFakeTransport(ids ...core.SessionID) *fakeTransport {
	ft := &fakeTransport{
		connected: make(map[core.SessionID]bool),
		groups:    make(map[domain.RoomID]map[core.SessionID]struct{}),
	}
	for _, id := range ids {
		ft.connected[id] = true
	}
	return ft
}

func (f *fakeTransport) SendTo(sid core.SessionID, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected[sid] {
		return core.ErrUnknownTarget
	}
	f.deliveries = append(f.deliveries, delivery{to: sid, event: event, payload: payload})
	return nil
}

func (f *fakeTransport) BroadcastToGroup(room domain.RoomID, event string, payload any, exclude core.SessionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sid := range f.groups[room] {
		if sid == exclude {
			continue
		}
		f.deliveries = append(f.deliveries, delivery{to: sid, event: event, payload: payload})
	}
}

func (f *fakeTransport) JoinGroup(sid core.SessionID, room domain.RoomID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.groups[room] == nil {
		f.groups[room] = make(map[core.SessionID]struct{})
	}
	f.groups[room][sid] = struct{}{}
}

func (f *fakeTransport) LeaveGroup(sid core.SessionID, room domain.RoomID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.groups[room], sid)
	if len(f.groups[room]) == 0 {
		delete(f.groups, room)
	}
}

func (f *fakeTransport) take() []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.deliveries
	f.deliveries = nil
	return out
}

func filter(ds []delivery, event string) []delivery {
	var out []delivery
	for _, d := range ds {
		if d.event == event {
			out = append(out, d)
		}
	}
	return out
}

func recipients(ds []delivery) []core.SessionID {
	out := make([]core.SessionID, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.to)
	}
	return out
}

func newTestOrchestrator(t *testing.T, ft *fakeTransport, global bool) *Orchestrator {
	t.Helper()
	issuer, err := turn.NewIssuer(turn.Config{
		Secret:   "test-secret",
		TTL:      time.Hour,
		TURNURLs: []string{"turn:turn.example.com:3478"},
	})
	require.NoError(t, err)
	var pinned []domain.RoomID
	if global {
		pinned = append(pinned, domain.GlobalRoom)
	}
	return &Orchestrator{
		Registry:    app.NewRegistry(pinned...),
		Credentials: issuer,
		Transport:   ft,
		Global:      global,
	}
}

func TestCreateRoom_DoesNotJoin(t *testing.T) {
	ft := newFakeTransport("a")
	o := newTestOrchestrator(t, ft, false)

	reply := o.CreateRoom("a")
	assert.Len(t, string(reply.RoomID), 8)
	assert.True(t, o.Registry.RoomExists(reply.RoomID))
	_, ok := o.Registry.RoomOf("a")
	assert.False(t, ok)
	assert.Empty(t, ft.take())
}

func TestJoin_SnapshotAndBroadcast(t *testing.T) {
	ft := newFakeTransport("a", "b", "c", "x")
	o := newTestOrchestrator(t, ft, false)

	require.NoError(t, o.Join("x", JoinRequest{Nickname: "xavier", RoomID: "other"}))
	require.NoError(t, o.Join("a", JoinRequest{Nickname: "alice", RoomID: "R"}))
	require.NoError(t, o.Join("b", JoinRequest{Nickname: "bob", RoomID: "R"}))
	ft.take()

	require.NoError(t, o.Join("c", JoinRequest{Nickname: "carol", RoomID: "R"}))
	ds := ft.take()

	require.NotEmpty(t, ds)
	first := ds[0]
	assert.Equal(t, core.EventUsersList, first.event, "joiner hears users-list before any broadcast")
	assert.Equal(t, core.SessionID("c"), first.to)

	list, ok := first.payload.(UsersList)
	require.True(t, ok)
	assert.Equal(t, domain.RoomID("R"), list.RoomID)
	assert.ElementsMatch(t, []domain.User{{ID: "a", Nickname: "alice"}, {ID: "b", Nickname: "bob"}}, list.Users)
	assert.NotEmpty(t, list.TurnConfig.Username)
	assert.NotEmpty(t, list.TurnConfig.Password)
	require.Len(t, list.ICEServers, 1)
	assert.Equal(t, list.TurnConfig.Username, list.ICEServers[0].Username)

	joined := filter(ds, core.EventUserJoined)
	assert.ElementsMatch(t, []core.SessionID{"a", "b"}, recipients(joined))
	for _, d := range joined {
		assert.Equal(t, domain.User{ID: "c", Nickname: "carol"}, d.payload)
	}
}

func TestJoin_MalformedPayload(t *testing.T) {
	ft := newFakeTransport("a")
	o := newTestOrchestrator(t, ft, false)

	err := o.Join("a", JoinRequest{Nickname: "alice"})
	assert.ErrorIs(t, err, ErrMalformedPayload)

	long := make([]byte, domain.MaxNicknameLen+1)
	for i := range long {
		long[i] = 'n'
	}
	err = o.Join("a", JoinRequest{Nickname: string(long), RoomID: "R"})
	assert.ErrorIs(t, err, ErrMalformedPayload)

	assert.Empty(t, ft.take())
	assert.Zero(t, o.Registry.UserCount())
	assert.False(t, o.Registry.RoomExists("R"))
}

func TestJoin_RepeatedJoinDoesNotRebroadcast(t *testing.T) {
	ft := newFakeTransport("a", "b")
	o := newTestOrchestrator(t, ft, false)
	require.NoError(t, o.Join("a", JoinRequest{Nickname: "alice", RoomID: "R"}))
	require.NoError(t, o.Join("b", JoinRequest{Nickname: "bob", RoomID: "R"}))
	ft.take()

	require.NoError(t, o.Join("b", JoinRequest{Nickname: "bob", RoomID: "R"}))
	ds := ft.take()
	assert.Len(t, filter(ds, core.EventUsersList), 1)
	assert.Empty(t, filter(ds, core.EventUserJoined))
	assert.Equal(t, []core.SessionID{"a", "b"}, o.Registry.Members("R"))
}

func TestJoin_RenameInSameRoomBroadcastsUpdate(t *testing.T) {
	ft := newFakeTransport("a", "b", "c")
	o := newTestOrchestrator(t, ft, false)
	require.NoError(t, o.Join("a", JoinRequest{Nickname: "alice", RoomID: "R"}))
	require.NoError(t, o.Join("b", JoinRequest{Nickname: "bob", RoomID: "R"}))
	require.NoError(t, o.Join("c", JoinRequest{Nickname: "carol", RoomID: "other"}))
	ft.take()

	require.NoError(t, o.Join("b", JoinRequest{Nickname: "bobby", RoomID: "R"}))
	ds := ft.take()

	assert.Empty(t, filter(ds, core.EventUserJoined))
	updated := filter(ds, core.EventUserUpdated)
	assert.Equal(t, []core.SessionID{"a"}, recipients(updated))
	assert.Equal(t, domain.User{ID: "b", Nickname: "bobby"}, updated[0].payload)
}

func TestOnDisconnect_ReapsCreatedRooms(t *testing.T) {
	ft := newFakeTransport("a")
	o := newTestOrchestrator(t, ft, false)
	for range 1000 {
		o.CreateRoom("a")
	}
	require.Len(t, o.Registry.List(), 1000)

	o.OnDisconnect("a")
	assert.Empty(t, o.Registry.List())
	assert.Empty(t, ft.take())
}

func TestJoin_SecondRoomTransfersAndNotifiesOldRoom(t *testing.T) {
	ft := newFakeTransport("a", "b", "c")
	o := newTestOrchestrator(t, ft, false)
	require.NoError(t, o.Join("a", JoinRequest{Nickname: "alice", RoomID: "R1"}))
	require.NoError(t, o.Join("b", JoinRequest{Nickname: "bob", RoomID: "R1"}))
	require.NoError(t, o.Join("c", JoinRequest{Nickname: "carol", RoomID: "R2"}))
	ft.take()

	require.NoError(t, o.Join("a", JoinRequest{Nickname: "zed", RoomID: "R2"}))
	ds := ft.take()

	left := filter(ds, core.EventUserDisconnected)
	require.Len(t, left, 1)
	assert.Equal(t, core.SessionID("b"), left[0].to)
	assert.Equal(t, domain.Departure{UserID: "a", Nickname: "alice"}, left[0].payload, "old room hears the name it knew")

	joined := filter(ds, core.EventUserJoined)
	assert.Equal(t, []core.SessionID{"c"}, recipients(joined))
	assert.Equal(t, domain.User{ID: "a", Nickname: "zed"}, joined[0].payload)

	room, _ := o.Registry.RoomOf("a")
	assert.Equal(t, domain.RoomID("R2"), room)
	assert.Equal(t, []core.SessionID{"b"}, o.Registry.Members("R1"))
}

func TestOnDisconnect_NotifiesRemainingMembersOnly(t *testing.T) {
	ft := newFakeTransport("a", "b", "c", "x")
	o := newTestOrchestrator(t, ft, false)
	for _, j := range []struct {
		sid  core.SessionID
		nick string
		room string
	}{{"a", "alice", "R"}, {"b", "bob", "R"}, {"c", "carol", "R"}, {"x", "xavier", "S"}} {
		require.NoError(t, o.Join(j.sid, JoinRequest{Nickname: j.nick, RoomID: j.room}))
	}
	ft.take()

	o.OnDisconnect("b")
	ds := ft.take()

	gone := filter(ds, core.EventUserDisconnected)
	assert.ElementsMatch(t, []core.SessionID{"a", "c"}, recipients(gone))
	for _, d := range gone {
		assert.Equal(t, domain.Departure{UserID: "b", Nickname: "bob"}, d.payload)
	}
	assert.Len(t, ds, 2)
}

func TestOnDisconnect_LastMemberDeletesRoom(t *testing.T) {
	ft := newFakeTransport("a", "b")
	o := newTestOrchestrator(t, ft, false)
	require.NoError(t, o.Join("a", JoinRequest{Nickname: "alice", RoomID: "R"}))
	require.NoError(t, o.Join("b", JoinRequest{Nickname: "bob", RoomID: "R"}))

	o.OnDisconnect("a")
	o.OnDisconnect("b")
	assert.False(t, o.Registry.RoomExists("R"))
	assert.Empty(t, ft.groups)
}

func TestOnDisconnect_BeforeJoinIsSilent(t *testing.T) {
	ft := newFakeTransport("a", "b")
	o := newTestOrchestrator(t, ft, false)
	require.NoError(t, o.Join("a", JoinRequest{Nickname: "alice", RoomID: "R"}))
	ft.take()

	o.OnConnect("b")
	o.OnDisconnect("b")
	o.OnDisconnect("b")
	assert.Empty(t, ft.take())
	assert.Equal(t, []core.SessionID{"a"}, o.Registry.Members("R"))
}

func TestGlobalMode(t *testing.T) {
	ft := newFakeTransport("a", "b")
	o := newTestOrchestrator(t, ft, true)

	assert.Equal(t, domain.GlobalRoom, o.CreateRoom("a").RoomID)
	require.NoError(t, o.Join("a", JoinRequest{Nickname: "alice"}))
	require.NoError(t, o.Join("b", JoinRequest{Nickname: "bob", RoomID: "ignored"}))

	assert.Equal(t, []core.SessionID{"a", "b"}, o.Registry.Members(domain.GlobalRoom))
	assert.False(t, o.Registry.RoomExists("ignored"))

	o.OnDisconnect("a")
	o.OnDisconnect("b")
	assert.True(t, o.Registry.RoomExists(domain.GlobalRoom))
}

func TestRelay_Opacity(t *testing.T) {
	ft := newFakeTransport("s", "t")
	o := newTestOrchestrator(t, ft, false)

	tcases := []struct {
		name     string
		envelope string
	}{
		{name: "offer", envelope: `{"targetId":"t","type":"offer","sdp":{"type":"offer","sdp":"v=0\r\no=- 46117 2 IN IP4 127.0.0.1\r\n"}}`},
		{name: "string sdp", envelope: `{"targetId":"t","type":"answer","sdp":"v=0\r\ns=-\r\n"}`},
		{name: "candidate", envelope: `{"targetId":"t","type":"candidate","candidate":{"candidate":"candidate:1 1 udp 2122260223 10.0.0.1 54321 typ host","sdpMid":"0","sdpMLineIndex":0}}`},
		{name: "extra fields", envelope: `{"targetId":"t","type":"renegotiate","meta":[1,2,{"k":null}]}`},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, o.Relay("s", json.RawMessage(tc.envelope)))
			ds := ft.take()
			require.Len(t, ds, 1)
			assert.Equal(t, core.SessionID("t"), ds[0].to)
			assert.Equal(t, core.EventSignal, ds[0].event)

			raw, ok := ds[0].payload.(json.RawMessage)
			require.True(t, ok)

			var got, sent map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(raw, &got))
			require.NoError(t, json.Unmarshal([]byte(tc.envelope), &sent))
			assert.JSONEq(t, `"s"`, string(got["senderId"]))
			delete(got, "senderId")
			require.Len(t, got, len(sent))
			for k, v := range sent {
				assert.JSONEq(t, string(v), string(got[k]), "field %q", k)
			}
		})
	}
}

func TestRelay_SdpStringIsPreservedExactly(t *testing.T) {
	ft := newFakeTransport("s", "t")
	o := newTestOrchestrator(t, ft, false)
	sdp := "v=0\r\no=- 1 2 IN IP4 0.0.0.0\r\na=fingerprint:sha-256 AB:CD\r\n"

	in, err := json.Marshal(map[string]any{"targetId": "t", "type": "offer", "sdp": sdp})
	require.NoError(t, err)
	require.NoError(t, o.Relay("s", in))

	ds := ft.take()
	require.Len(t, ds, 1)
	var got struct {
		SenderID string `json:"senderId"`
		SDP      string `json:"sdp"`
	}
	require.NoError(t, json.Unmarshal(ds[0].payload.(json.RawMessage), &got))
	assert.Equal(t, "s", got.SenderID)
	assert.Equal(t, sdp, got.SDP)
}

func TestRelay_SenderIDCannotBeSpoofed(t *testing.T) {
	ft := newFakeTransport("s", "t")
	o := newTestOrchestrator(t, ft, false)

	require.NoError(t, o.Relay("s", json.RawMessage(`{"targetId":"t","type":"offer","senderId":"mallory"}`)))
	ds := ft.take()
	require.Len(t, ds, 1)
	var got map[string]string
	require.NoError(t, json.Unmarshal(ds[0].payload.(json.RawMessage), &got))
	assert.Equal(t, "s", got["senderId"])
}

func TestRelay_Errors(t *testing.T) {
	ft := newFakeTransport("s")
	o := newTestOrchestrator(t, ft, false)

	for _, env := range []string{`[]`, `"x"`, `null`, `{}`, `{"targetId":"t"}`, `{"type":"offer"}`, `{"targetId":5,"type":"offer"}`, `{"targetId":"t","type":""}`} {
		assert.ErrorIs(t, o.Relay("s", json.RawMessage(env)), ErrMalformedPayload, env)
	}

	assert.NoError(t, o.Relay("s", json.RawMessage(`{"targetId":"gone","type":"offer"}`)), "unknown targets are absorbed")
	assert.Empty(t, ft.take())
}
