// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/config"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/msgtemplate"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/ref"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/schema"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/messaging"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/workshop"
)

const testServer = "werkstatt.example"

var (
	testBot     = ref.MustParseUserID("@invitebot:" + testServer)
	testNaming  = workshop.Naming{Server: ref.MustParseServerName(testServer), GeneralSuffix: "-general"}
	testTokens  = workshop.RoleTokens{Owner: "owner", Crew: "crew"}
	discardLogs = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// fakeHomeserver is an in-memory messaging.Session. It models the
// parts of Synapse behavior the engine depends on: aliases, room
// membership, state, global account data, and M_FORBIDDEN for
// inviting a joined user.
type fakeHomeserver struct {
	mu sync.Mutex

	aliases     map[string]ref.RoomID
	rooms       map[ref.RoomID]*fakeRoom
	accountData map[ref.EventType]json.RawMessage
	nextRoom    int

	created  []messaging.CreateRoomRequest
	invites  []fakeInvite
	messages []fakeMessage
	joins    []ref.RoomID

	// resolveErr, if set, replaces every alias lookup result.
	resolveErr error
}

type fakeRoom struct {
	id      ref.RoomID
	members []ref.UserID
	invited []ref.UserID
	state   map[string]json.RawMessage
}

type fakeInvite struct {
	room ref.RoomID
	user ref.UserID
}

type fakeMessage struct {
	room    ref.RoomID
	content messaging.MessageContent
}

func newFakeHomeserver() *fakeHomeserver {
	return &fakeHomeserver{
		aliases:     make(map[string]ref.RoomID),
		rooms:       make(map[ref.RoomID]*fakeRoom),
		accountData: make(map[ref.EventType]json.RawMessage),
	}
}

func stateKey(eventType ref.EventType, key string) string {
	return eventType.String() + "\x00" + key
}

// addRoom creates a room outside the bot's view, for rooms that exist
// before the test starts. An empty aliasLocalpart registers no alias.
func (h *fakeHomeserver) addRoom(aliasLocalpart string, members ...ref.UserID) ref.RoomID {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.newRoomLocked(members)
	if aliasLocalpart != "" {
		h.aliases["#"+aliasLocalpart+":"+testServer] = room.id
	}
	return room.id
}

func (h *fakeHomeserver) newRoomLocked(members []ref.UserID) *fakeRoom {
	h.nextRoom++
	room := &fakeRoom{
		id:      ref.MustParseRoomID(fmt.Sprintf("!room%d:%s", h.nextRoom, testServer)),
		members: slices.Clone(members),
		state:   make(map[string]json.RawMessage),
	}
	users := map[string]int{}
	for _, member := range members {
		users[member.String()] = 100
	}
	powerLevels, _ := json.Marshal(map[string]any{"users": users, "users_default": 0, "state_default": 50})
	room.state[stateKey(schema.MatrixEventTypePowerLevels, "")] = powerLevels
	h.rooms[room.id] = room
	return room
}

func (h *fakeHomeserver) room(roomID ref.RoomID) *fakeRoom {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[roomID]
}

func (h *fakeHomeserver) stateContent(t *testing.T, roomID ref.RoomID, eventType ref.EventType, key string, into any) bool {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[roomID]
	if !ok {
		t.Fatalf("no room %s", roomID)
	}
	raw, ok := room.state[stateKey(eventType, key)]
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, into); err != nil {
		t.Fatalf("decoding %s in %s: %v", eventType, roomID, err)
	}
	return true
}

func (h *fakeHomeserver) snapshot() (created []messaging.CreateRoomRequest, invites []fakeInvite, messages []fakeMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.created), slices.Clone(h.invites), slices.Clone(h.messages)
}

func (h *fakeHomeserver) UserID() ref.UserID { return testBot }

func (h *fakeHomeserver) ResolveAlias(_ context.Context, alias ref.RoomAlias) (ref.RoomID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.resolveErr != nil {
		return ref.RoomID{}, h.resolveErr
	}
	roomID, ok := h.aliases[alias.String()]
	if !ok {
		return ref.RoomID{}, &messaging.MatrixError{Code: messaging.ErrCodeNotFound, Message: "Room alias not found", StatusCode: 404}
	}
	return roomID, nil
}

func (h *fakeHomeserver) CreateRoom(_ context.Context, request messaging.CreateRoomRequest) (*messaging.CreateRoomResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	alias := ""
	if request.Alias != "" {
		alias = "#" + request.Alias + ":" + testServer
		if _, taken := h.aliases[alias]; taken {
			return nil, &messaging.MatrixError{Code: messaging.ErrCodeRoomInUse, Message: "Room alias already taken", StatusCode: 400}
		}
	}
	h.created = append(h.created, request)
	room := h.newRoomLocked([]ref.UserID{testBot})
	for _, initial := range request.InitialState {
		content, _ := json.Marshal(initial.Content)
		room.state[stateKey(initial.Type, initial.StateKey)] = content
	}
	for _, user := range request.Invite {
		room.invited = append(room.invited, user)
		h.invites = append(h.invites, fakeInvite{room: room.id, user: user})
	}
	if alias != "" {
		h.aliases[alias] = room.id
	}
	return &messaging.CreateRoomResponse{RoomID: room.id}, nil
}

func (h *fakeHomeserver) JoinRoom(_ context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joins = append(h.joins, roomID)
	if room, ok := h.rooms[roomID]; ok && !slices.Contains(room.members, testBot) {
		room.members = append(room.members, testBot)
	}
	return roomID, nil
}

func (h *fakeHomeserver) InviteUser(_ context.Context, roomID ref.RoomID, userID ref.UserID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[roomID]
	if !ok {
		return &messaging.MatrixError{Code: messaging.ErrCodeNotFound, Message: "Unknown room", StatusCode: 404}
	}
	if !slices.Contains(room.members, testBot) {
		return &messaging.MatrixError{Code: messaging.ErrCodeForbidden, Message: "User " + testBot.String() + " not in room " + roomID.String(), StatusCode: 403}
	}
	if slices.Contains(room.members, userID) {
		return &messaging.MatrixError{Code: messaging.ErrCodeForbidden, Message: userID.String() + " is already in the room.", StatusCode: 403}
	}
	room.invited = append(room.invited, userID)
	h.invites = append(h.invites, fakeInvite{room: roomID, user: userID})
	return nil
}

func (h *fakeHomeserver) SendMessage(_ context.Context, roomID ref.RoomID, content messaging.MessageContent) (ref.EventID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID]; !ok {
		return ref.EventID{}, &messaging.MatrixError{Code: messaging.ErrCodeForbidden, Message: "not in room", StatusCode: 403}
	}
	h.messages = append(h.messages, fakeMessage{room: roomID, content: content})
	return ref.MustParseEventID(fmt.Sprintf("$event%d", len(h.messages))), nil
}

func (h *fakeHomeserver) GetStateEvent(_ context.Context, roomID ref.RoomID, eventType ref.EventType, key string) (json.RawMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[roomID]
	if !ok {
		return nil, &messaging.MatrixError{Code: messaging.ErrCodeForbidden, Message: "not in room", StatusCode: 403}
	}
	content, ok := room.state[stateKey(eventType, key)]
	if !ok {
		return nil, &messaging.MatrixError{Code: messaging.ErrCodeNotFound, Message: "Event not found", StatusCode: 404}
	}
	return slices.Clone(content), nil
}

func (h *fakeHomeserver) SendStateEvent(_ context.Context, roomID ref.RoomID, eventType ref.EventType, key string, content any) (ref.EventID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[roomID]
	if !ok {
		return ref.EventID{}, &messaging.MatrixError{Code: messaging.ErrCodeForbidden, Message: "not in room", StatusCode: 403}
	}
	encoded, err := json.Marshal(content)
	if err != nil {
		return ref.EventID{}, err
	}
	room.state[stateKey(eventType, key)] = encoded
	return ref.MustParseEventID("$state"), nil
}

func (h *fakeHomeserver) JoinedMembers(_ context.Context, roomID ref.RoomID) ([]ref.UserID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[roomID]
	if !ok || !slices.Contains(room.members, testBot) {
		return nil, &messaging.MatrixError{Code: messaging.ErrCodeForbidden, Message: "not in room", StatusCode: 403}
	}
	return slices.Clone(room.members), nil
}

func (h *fakeHomeserver) GetAccountData(_ context.Context, eventType ref.EventType) (json.RawMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	content, ok := h.accountData[eventType]
	if !ok {
		return nil, &messaging.MatrixError{Code: messaging.ErrCodeNotFound, Message: "Account data not found", StatusCode: 404}
	}
	return slices.Clone(content), nil
}

func (h *fakeHomeserver) SetAccountData(_ context.Context, eventType ref.EventType, content any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	encoded, err := json.Marshal(content)
	if err != nil {
		return err
	}
	h.accountData[eventType] = encoded
	return nil
}

var _ messaging.Session = (*fakeHomeserver)(nil)

// fakeDirectory maps Matrix users to their directory groups. Users not
// in the map have no directory identity.
type fakeDirectory struct {
	groups map[ref.UserID][]workshop.Group
	err    error
}

func (d *fakeDirectory) WorkshopGroups(_ context.Context, userID ref.UserID) ([]workshop.Group, error) {
	if d.err != nil {
		return nil, d.err
	}
	groups, ok := d.groups[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, userID)
	}
	return groups, nil
}

func testTemplates(t *testing.T) *msgtemplate.Set {
	t.Helper()
	templates, err := config.Default().Templates.Parse()
	if err != nil {
		t.Fatalf("parsing default templates: %v", err)
	}
	return templates
}

func newTestEngine(t *testing.T, homeserver *fakeHomeserver, dir DirectoryLookup) (*Engine, *Metrics) {
	t.Helper()
	metrics := NewMetrics(prometheus.NewRegistry())
	engine, err := NewEngine(Config{
		Session:         homeserver,
		Directory:       dir,
		Templates:       testTemplates(t),
		Naming:          testNaming,
		Tokens:          testTokens,
		CommandPrefix:   "!create",
		AdminPowerLevel: 100,
		Metrics:         metrics,
		Logger:          discardLogs,
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine, metrics
}
