// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/ref"
)

// AliasResolver is the part of Session LookupAlias needs.
type AliasResolver interface {
	ResolveAlias(ctx context.Context, alias ref.RoomAlias) (ref.RoomID, error)
}

// LookupAlias resolves alias and reports whether it exists. Only an
// M_NOT_FOUND response yields found=false with a nil error. Any other
// failure (transport, auth, rate limit, a non-Matrix error page) is
// returned as an error, so callers never mistake an unreachable server
// for a missing room.
func LookupAlias(ctx context.Context, resolver AliasResolver, alias ref.RoomAlias) (roomID ref.RoomID, found bool, err error) {
	roomID, err = resolver.ResolveAlias(ctx, alias)
	if err == nil {
		return roomID, true, nil
	}
	if IsMatrixError(err, ErrCodeNotFound) {
		return ref.RoomID{}, false, nil
	}
	return ref.RoomID{}, false, err
}

// AccountDataReader is the part of Session GetAccountData needs.
type AccountDataReader interface {
	GetAccountData(ctx context.Context, eventType ref.EventType) (json.RawMessage, error)
}

// GetAccountData reads typed global account data. An unset type gives
// the zero T with found=false and a nil error.
func GetAccountData[T any](ctx context.Context, session AccountDataReader, eventType ref.EventType) (value T, found bool, err error) {
	content, err := session.GetAccountData(ctx, eventType)
	if IsMatrixError(err, ErrCodeNotFound) {
		return value, false, nil
	}
	if err != nil {
		return value, false, err
	}
	if err := json.Unmarshal(content, &value); err != nil {
		return value, false, fmt.Errorf("unmarshaling account data %s: %w", eventType, err)
	}
	return value, true, nil
}
