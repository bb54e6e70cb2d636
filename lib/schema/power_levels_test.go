// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/ref"
)

func intPointer(value int) *int { return &value }

func TestUserLevel(t *testing.T) {
	t.Parallel()

	alice := ref.MustParseUserID("@alice:test")
	unknown := ref.MustParseUserID("@unknown:test")

	tests := []struct {
		name        string
		powerLevels PowerLevels
		userID      ref.UserID
		expected    int
	}{
		{
			name: "explicit user level",
			powerLevels: PowerLevels{
				Users: map[string]int{"@alice:test": 100, "@bob:test": 50},
			},
			userID:   alice,
			expected: 100,
		},
		{
			name: "explicit zero level",
			powerLevels: PowerLevels{
				Users:        map[string]int{"@alice:test": 0},
				UsersDefault: intPointer(10),
			},
			userID:   alice,
			expected: 0,
		},
		{
			name: "falls back to users_default",
			powerLevels: PowerLevels{
				Users:        map[string]int{"@alice:test": 100},
				UsersDefault: intPointer(25),
			},
			userID:   unknown,
			expected: 25,
		},
		{
			name:        "nil users map and nil users_default",
			powerLevels: PowerLevels{},
			userID:      unknown,
			expected:    0,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			if got := test.powerLevels.UserLevel(test.userID); got != test.expected {
				t.Errorf("UserLevel(%s) = %d, want %d", test.userID, got, test.expected)
			}
		})
	}
}

// stateStore is an in-memory StateSession keyed by event type.
type stateStore struct {
	content map[ref.EventType]json.RawMessage
	readErr error
	writes  int
}

func (store *stateStore) GetStateEvent(_ context.Context, _ ref.RoomID, eventType ref.EventType, _ string) (json.RawMessage, error) {
	if store.readErr != nil {
		return nil, store.readErr
	}
	return store.content[eventType], nil
}

func (store *stateStore) SendStateEvent(_ context.Context, _ ref.RoomID, eventType ref.EventType, _ string, content any) (ref.EventID, error) {
	encoded, err := json.Marshal(content)
	if err != nil {
		return ref.EventID{}, err
	}
	store.content[eventType] = encoded
	store.writes++
	return ref.EventID{}, nil
}

func TestGrantPowerLevelsPreservesExistingUsers(t *testing.T) {
	t.Parallel()

	roomID := ref.MustParseRoomID("!space:test")
	store := &stateStore{content: map[ref.EventType]json.RawMessage{
		MatrixEventTypePowerLevels: json.RawMessage(`{
			"users": {"@vera:test": 50, "@bot:test": 100},
			"users_default": 0,
			"events": {"m.room.name": 50},
			"historical": 100
		}`),
	}}

	err := GrantPowerLevels(context.Background(), store, roomID, PowerLevelGrants{
		Users: map[ref.UserID]int{
			ref.MustParseUserID("@udo:test"): 100,
			ref.MustParseUserID("@bot:test"): 100,
		},
	})
	if err != nil {
		t.Fatalf("GrantPowerLevels: %v", err)
	}
	if store.writes != 1 {
		t.Errorf("writes = %d, want 1", store.writes)
	}

	var result struct {
		PowerLevels
		Historical *int `json:"historical"`
	}
	if err := json.Unmarshal(store.content[MatrixEventTypePowerLevels], &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	want := map[string]int{"@vera:test": 50, "@bot:test": 100, "@udo:test": 100}
	if len(result.Users) != len(want) {
		t.Errorf("users = %v, want %v", result.Users, want)
	}
	for userID, level := range want {
		if result.Users[userID] != level {
			t.Errorf("users[%s] = %d, want %d", userID, result.Users[userID], level)
		}
	}
	if result.Events["m.room.name"] != 50 {
		t.Errorf("events[m.room.name] = %d, want 50", result.Events["m.room.name"])
	}
	if result.Historical == nil || *result.Historical != 100 {
		t.Errorf("unmodeled field historical not preserved: %v", result.Historical)
	}
}

func TestGrantPowerLevelsWithoutUsersKey(t *testing.T) {
	t.Parallel()

	store := &stateStore{content: map[ref.EventType]json.RawMessage{
		MatrixEventTypePowerLevels: json.RawMessage(`{"users_default": 0}`),
	}}
	udo := ref.MustParseUserID("@udo:test")
	err := GrantPowerLevels(context.Background(), store, ref.MustParseRoomID("!r:test"), PowerLevelGrants{
		Users: map[ref.UserID]int{udo: 100},
	})
	if err != nil {
		t.Fatalf("GrantPowerLevels: %v", err)
	}

	var result PowerLevels
	if err := json.Unmarshal(store.content[MatrixEventTypePowerLevels], &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.UserLevel(udo) != 100 {
		t.Errorf("UserLevel(udo) = %d, want 100", result.UserLevel(udo))
	}
}

func TestGrantPowerLevelsReadError(t *testing.T) {
	t.Parallel()

	readErr := errors.New("homeserver unavailable")
	store := &stateStore{content: map[ref.EventType]json.RawMessage{}, readErr: readErr}
	err := GrantPowerLevels(context.Background(), store, ref.MustParseRoomID("!r:test"), PowerLevelGrants{
		Users: map[ref.UserID]int{ref.MustParseUserID("@udo:test"): 100},
	})
	if !errors.Is(err, readErr) {
		t.Fatalf("error = %v, want wrapped %v", err, readErr)
	}
	if store.writes != 0 {
		t.Errorf("writes = %d after failed read, want 0", store.writes)
	}
}

func TestGrantPowerLevelsMalformedContent(t *testing.T) {
	t.Parallel()

	store := &stateStore{content: map[ref.EventType]json.RawMessage{
		MatrixEventTypePowerLevels: json.RawMessage(`{"users": ["not", "a", "map"]}`),
	}}
	err := GrantPowerLevels(context.Background(), store, ref.MustParseRoomID("!r:test"), PowerLevelGrants{
		Users: map[ref.UserID]int{ref.MustParseUserID("@udo:test"): 100},
	})
	if err == nil {
		t.Fatal("expected error for malformed users field")
	}
	if store.writes != 0 {
		t.Errorf("writes = %d after parse failure, want 0", store.writes)
	}
}
