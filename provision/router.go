// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/clock"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/ref"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/schema"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/messaging"
)

// Handler receives the events the Router selects. *Engine implements it.
type Handler interface {
	HandleJoin(ctx context.Context, userID ref.UserID) error
	HandleCommand(ctx context.Context, roomID ref.RoomID, sender ref.UserID, body string) error
}

// RoomSession is the part of the Matrix session the Router uses.
type RoomSession interface {
	UserID() ref.UserID
	JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error)
	JoinedMembers(ctx context.Context, roomID ref.RoomID) ([]ref.UserID, error)
}

// RouterConfig configures a Router.
type RouterConfig struct {
	Session RoomSession
	Handler Handler

	// MonitoredRoom is the room whose joins trigger HandleJoin.
	MonitoredRoom ref.RoomID

	// CommandPrefix selects candidate command messages.
	CommandPrefix string

	// StaleAfter drops events whose origin_server_ts is further than
	// this in the past.
	StaleAfter time.Duration

	Clock   clock.Clock
	Metrics *Metrics
	Logger  *slog.Logger
}

// Router filters /sync responses and dispatches relevant events to the
// Handler, each on its own goroutine. A handler error or panic is
// logged and counted; it never reaches the sync loop.
type Router struct {
	session       RoomSession
	handler       Handler
	monitoredRoom ref.RoomID
	commandPrefix string
	staleAfter    time.Duration
	clock         clock.Clock
	metrics       *Metrics
	logger        *slog.Logger

	inflight sync.WaitGroup
}

// NewRouter creates a Router.
func NewRouter(config RouterConfig) *Router {
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		session:       config.Session,
		handler:       config.Handler,
		monitoredRoom: config.MonitoredRoom,
		commandPrefix: config.CommandPrefix,
		staleAfter:    config.StaleAfter,
		clock:         clk,
		metrics:       config.Metrics,
		logger:        logger,
	}
}

// SyncFilter is the inline /sync filter for the bot: membership and
// message timeline events, no presence or account data, and no room
// state beyond the timeline.
const SyncFilter = `{` +
	`"account_data":{"not_types":["*"]},` +
	`"presence":{"not_types":["*"]},` +
	`"room":{` +
	`"account_data":{"not_types":["*"]},` +
	`"ephemeral":{"not_types":["*"]},` +
	`"state":{"lazy_load_members":true,"types":[]},` +
	`"timeline":{"types":["m.room.member","m.room.message"],"limit":50}` +
	`}}`

// HandleInitialSync processes the first /sync of the process. Its
// timeline is history and is skipped; only pending invites to the
// monitored room are acted on.
func (r *Router) HandleInitialSync(ctx context.Context, response *messaging.SyncResponse) {
	r.acceptInvites(ctx, response)
}

// HandleSync processes an incremental /sync response. It returns once
// every event is dispatched, without waiting for the handlers.
func (r *Router) HandleSync(ctx context.Context, response *messaging.SyncResponse) {
	r.acceptInvites(ctx, response)

	for roomID, room := range response.Rooms.Join {
		if room.Timeline.Limited && roomID == r.monitoredRoom {
			// A gap in the timeline: joins inside it are never delivered.
			r.logger.Warn("monitored room timeline is limited, earlier joins were skipped",
				"room_id", roomID.String(),
				"prev_batch", room.Timeline.PrevBatch,
			)
		}
		for _, event := range room.Timeline.Events {
			switch event.Type {
			case schema.MatrixEventTypeRoomMember:
				r.routeMember(ctx, roomID, event)
			case schema.MatrixEventTypeRoomMessage:
				r.routeMessage(ctx, roomID, event)
			}
		}
	}
}

// Wait blocks until every dispatched handler has returned.
func (r *Router) Wait() {
	r.inflight.Wait()
}

func (r *Router) acceptInvites(ctx context.Context, response *messaging.SyncResponse) {
	if _, invited := response.Rooms.Invite[r.monitoredRoom]; !invited {
		return
	}
	r.dispatch(ctx, triggerInvite, func(ctx context.Context) error {
		if _, err := r.session.JoinRoom(ctx, r.monitoredRoom); err != nil {
			return fmt.Errorf("joining monitored room: %w", err)
		}
		r.logger.Info("accepted invite to monitored room", "room_id", r.monitoredRoom.String())
		return nil
	})
}

func (r *Router) routeMember(ctx context.Context, roomID ref.RoomID, event messaging.Event) {
	if roomID != r.monitoredRoom || event.StateKey == nil || *event.StateKey != event.Sender.String() {
		return
	}
	if event.ContentString("membership") != schema.MembershipJoin {
		return
	}
	if event.PrevContentString("membership") == schema.MembershipJoin {
		// Display name or avatar change.
		return
	}
	if event.Sender == r.session.UserID() {
		return
	}
	if r.stale(event) {
		r.metrics.event(triggerJoin, outcomeIgnored)
		r.logger.Debug("dropping stale join", "user_id", event.Sender.String(), "event_id", event.EventID.String())
		return
	}

	userID := event.Sender
	r.dispatch(ctx, triggerJoin, func(ctx context.Context) error {
		return r.handler.HandleJoin(ctx, userID)
	})
}

func (r *Router) routeMessage(ctx context.Context, roomID ref.RoomID, event messaging.Event) {
	if roomID == r.monitoredRoom || event.Sender == r.session.UserID() {
		return
	}
	if event.ContentString("msgtype") != schema.MsgTypeText {
		return
	}
	body := event.ContentString("body")
	if !strings.HasPrefix(body, r.commandPrefix) {
		return
	}
	if r.stale(event) {
		r.metrics.event(triggerCommand, outcomeIgnored)
		r.logger.Debug("dropping stale command", "user_id", event.Sender.String(), "event_id", event.EventID.String())
		return
	}

	sender := event.Sender
	r.dispatch(ctx, triggerCommand, func(ctx context.Context) error {
		// Two joined members is taken to mean a DM; the bot does not
		// consult m.direct or is_direct here.
		members, err := r.session.JoinedMembers(ctx, roomID)
		if err != nil {
			return fmt.Errorf("listing members of %s: %w", roomID, err)
		}
		if len(members) != 2 {
			return errIgnored
		}
		return r.handler.HandleCommand(ctx, roomID, sender, body)
	})
}

func (r *Router) stale(event messaging.Event) bool {
	age := r.clock.Now().Sub(time.UnixMilli(event.OriginServerTS))
	return age > r.staleAfter
}

// errIgnored is returned by a dispatched function that decided, after
// a remote check, not to act.
var errIgnored = errors.New("event ignored")

// dispatch runs handle on a new goroutine, recovering panics.
func (r *Router) dispatch(ctx context.Context, trigger string, handle func(ctx context.Context) error) {
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		defer func() {
			if recovered := recover(); recovered != nil {
				r.metrics.event(trigger, outcomePanic)
				r.logger.Error("event handler panicked",
					"trigger", trigger,
					"panic", fmt.Sprint(recovered),
					"stack", string(debug.Stack()),
				)
			}
		}()

		err := handle(ctx)
		switch {
		case err == nil:
			r.metrics.event(trigger, outcomeHandled)
		case errors.Is(err, errIgnored):
			r.metrics.event(trigger, outcomeIgnored)
		default:
			r.metrics.event(trigger, outcomeFailed)
			r.logger.Error("event handler failed", "trigger", trigger, "error", err)
		}
	}()
}
