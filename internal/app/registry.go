package app

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/Rendezvous/internal/core"
	"github.com/dkeye/Rendezvous/internal/domain"
	nanoid "github.com/jaevor/go-nanoid"
	"github.com/rs/zerolog/log"
)

const (
	roomIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	roomIDLen      = 8
)

var (
	ErrNotRegistered = errors.New("connection has no user record")
	ErrEmptyRoomID   = errors.New("room id is empty")
)

// RemovalResult describes what RemoveConnection (or a room transfer) undid,
// so the caller can notify the right members.
type RemovalResult struct {
	User        domain.User
	HadUser     bool
	Room        domain.RoomID
	InRoom      bool
	RoomDeleted bool
	// Remaining is the member set of Room right after the removal.
	Remaining []core.SessionID
	// Reaped lists rooms the connection created that were still empty.
	Reaped []domain.RoomID
}

type JoinResult struct {
	Room domain.RoomID
	User domain.User
	// Others are the room members besides the joiner, captured under the
	// same lock as the insertion.
	Others        []domain.User
	AlreadyMember bool
	// Renamed is set on a repeated join that changed the nickname.
	Renamed bool
	// Left is set when the connection was moved out of another room.
	Left *RemovalResult
}

// Registry is the membership store: users, rooms and the connection->room
// index. One mutex guards all three maps so they never disagree.
type Registry struct {
	mu     sync.Mutex
	users  map[core.SessionID]*domain.User
	rooms  map[domain.RoomID]map[core.SessionID]struct{}
	roomOf map[core.SessionID]domain.RoomID
	pinned map[domain.RoomID]struct{}
	// created tracks rooms per creator until the creator disconnects.
	created map[core.SessionID]map[domain.RoomID]struct{}
	newID   func() string
}

// NewRegistry creates an empty store. Pinned rooms always exist and are
// never deleted when they empty out.
func NewRegistry(pinned ...domain.RoomID) *Registry {
	gen, err := nanoid.CustomASCII(roomIDAlphabet, roomIDLen)
	if err != nil {
		panic(fmt.Sprintf("room id generator: %v", err))
	}
	r := &Registry{
		users:   make(map[core.SessionID]*domain.User),
		rooms:   make(map[domain.RoomID]map[core.SessionID]struct{}),
		roomOf:  make(map[core.SessionID]domain.RoomID),
		pinned:  make(map[domain.RoomID]struct{}),
		created: make(map[core.SessionID]map[domain.RoomID]struct{}),
		newID:   gen,
	}
	for _, id := range pinned {
		r.pinned[id] = struct{}{}
		r.rooms[id] = make(map[core.SessionID]struct{})
	}
	return r
}

// CreateRoom registers a fresh empty room under a random id on behalf of
// owner. If owner disconnects while the room is still empty, the room goes
// with it.
func (r *Registry) CreateRoom(owner core.SessionID) domain.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := domain.RoomID(r.newID())
	for r.roomExists(id) {
		log.Warn().Str("module", "app.registry").Str("room", string(id)).Msg("room id collision, regenerating")
		id = domain.RoomID(r.newID())
	}
	r.rooms[id] = make(map[core.SessionID]struct{})
	owned, ok := r.created[owner]
	if !ok {
		owned = make(map[domain.RoomID]struct{})
		r.created[owner] = owned
	}
	owned[id] = struct{}{}
	log.Info().Str("module", "app.registry").Str("sid", string(owner)).Str("room", string(id)).Msg("created room")
	return id
}

func (r *Registry) EnsureRoom(id domain.RoomID) error {
	if id == "" {
		return ErrEmptyRoomID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureRoom(id)
	return nil
}

// AddUser upserts the user record for sid.
func (r *Registry) AddUser(sid core.SessionID, nickname string) (domain.User, error) {
	u, err := domain.NewUser(domain.UserID(sid), nickname)
	if err != nil {
		return domain.User{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[sid] = u
	return *u, nil
}

// JoinRoom puts a registered connection into room. A connection sitting in
// another room is moved out of it first; joining the current room again is
// a no-op reported through AlreadyMember.
func (r *Registry) JoinRoom(sid core.SessionID, room domain.RoomID) (JoinResult, error) {
	if room == "" {
		return JoinResult{}, ErrEmptyRoomID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[sid]
	if !ok {
		return JoinResult{}, fmt.Errorf("join %q: %w", room, ErrNotRegistered)
	}
	return r.joinRoom(sid, room, *u)
}

// Join registers the user and joins room in one step.
func (r *Registry) Join(sid core.SessionID, nickname string, room domain.RoomID) (JoinResult, error) {
	if room == "" {
		return JoinResult{}, ErrEmptyRoomID
	}
	u, err := domain.NewUser(domain.UserID(sid), nickname)
	if err != nil {
		return JoinResult{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := *u
	if old, ok := r.users[sid]; ok {
		prev = *old
	}
	r.users[sid] = u
	return r.joinRoom(sid, room, prev)
}

func (r *Registry) ListOtherMembers(sid core.SessionID, room domain.RoomID) []domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.otherMembers(sid, room)
}

// RemoveConnection drops every trace of sid: its room membership (deleting
// the room when it empties) and its user record. Unknown ids are a no-op.
func (r *Registry) RemoveConnection(sid core.SessionID) RemovalResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.leaveRoom(sid)
	if u, ok := r.users[sid]; ok {
		res.User = *u
		res.HadUser = true
		delete(r.users, sid)
	}
	res.Reaped = r.reapCreated(sid)
	if res.InRoom || res.HadUser || len(res.Reaped) > 0 {
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(res.Room)).Bool("room_deleted", res.RoomDeleted).Int("reaped", len(res.Reaped)).Msg("removed connection")
	}
	return res
}

func (r *Registry) RoomOf(sid core.SessionID) (domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.roomOf[sid]
	return id, ok
}

func (r *Registry) User(sid core.SessionID) (domain.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[sid]; ok {
		return *u, true
	}
	return domain.User{}, false
}

func (r *Registry) RoomExists(id domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomExists(id)
}

// Members returns the connection ids in room, sorted.
func (r *Registry) Members(room domain.RoomID) []core.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.memberIDs(room)
}

// List reports every room with its member count, sorted by id.
func (r *Registry) List() []domain.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RoomInfo, 0, len(r.rooms))
	for id, members := range r.rooms {
		out = append(out, domain.RoomInfo{ID: id, MemberCount: len(members)})
	}
	slices.SortFunc(out, func(a, b domain.RoomInfo) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return out
}

func (r *Registry) UserCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

func (r *Registry) roomExists(id domain.RoomID) bool {
	_, ok := r.rooms[id]
	return ok
}

func (r *Registry) ensureRoom(id domain.RoomID) map[core.SessionID]struct{} {
	members, ok := r.rooms[id]
	if !ok {
		members = make(map[core.SessionID]struct{})
		r.rooms[id] = members
		log.Info().Str("module", "app.registry").Str("room", string(id)).Msg("created room on join")
	}
	return members
}

// joinRoom expects r.users[sid] to hold the current record; prev is the
// record the old room knew, used when announcing a transfer.
func (r *Registry) joinRoom(sid core.SessionID, room domain.RoomID, prev domain.User) (JoinResult, error) {
	u := r.users[sid]
	res := JoinResult{Room: room, User: *u}
	if cur, ok := r.roomOf[sid]; ok {
		if cur == room {
			res.AlreadyMember = true
			res.Renamed = prev.Nickname != u.Nickname
			res.Others = r.otherMembers(sid, room)
			return res, nil
		}
		left := r.leaveRoom(sid)
		left.User = prev
		left.HadUser = true
		res.Left = &left
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("from_room", string(cur)).Str("room", string(room)).Msg("moving connection")
	}
	members := r.ensureRoom(room)
	members[sid] = struct{}{}
	r.roomOf[sid] = room
	res.Others = r.otherMembers(sid, room)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(room)).Int("members", len(members)).Msg("joined room")
	return res, nil
}

// leaveRoom removes sid from its room, deleting the room when it empties.
func (r *Registry) leaveRoom(sid core.SessionID) RemovalResult {
	room, ok := r.roomOf[sid]
	if !ok {
		return RemovalResult{}
	}
	delete(r.roomOf, sid)
	res := RemovalResult{Room: room, InRoom: true}
	members := r.rooms[room]
	delete(members, sid)
	if _, pinned := r.pinned[room]; len(members) == 0 && !pinned {
		delete(r.rooms, room)
		res.RoomDeleted = true
		log.Info().Str("module", "app.registry").Str("room", string(room)).Msg("room deleted (empty)")
	}
	res.Remaining = r.memberIDs(room)
	return res
}

// reapCreated deletes the still-empty rooms sid created and stops tracking
// the rest.
func (r *Registry) reapCreated(sid core.SessionID) []domain.RoomID {
	owned, ok := r.created[sid]
	if !ok {
		return nil
	}
	delete(r.created, sid)
	var reaped []domain.RoomID
	for id := range owned {
		members, exists := r.rooms[id]
		if !exists || len(members) > 0 {
			continue
		}
		if _, pinned := r.pinned[id]; pinned {
			continue
		}
		delete(r.rooms, id)
		reaped = append(reaped, id)
	}
	slices.Sort(reaped)
	return reaped
}

func (r *Registry) memberIDs(room domain.RoomID) []core.SessionID {
	members := r.rooms[room]
	out := make([]core.SessionID, 0, len(members))
	for sid := range members {
		out = append(out, sid)
	}
	slices.Sort(out)
	return out
}

func (r *Registry) otherMembers(sid core.SessionID, room domain.RoomID) []domain.User {
	ids := r.memberIDs(room)
	out := make([]domain.User, 0, len(ids))
	for _, id := range ids {
		if id == sid {
			continue
		}
		if u, ok := r.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out
}
