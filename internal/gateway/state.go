package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cloaktalk/cloaktalk/internal/model"
	"github.com/cloaktalk/cloaktalk/internal/protocol"
	"github.com/cloaktalk/cloaktalk/internal/store"
	"github.com/cloaktalk/cloaktalk/internal/ws"
)

// sendInitialState sends the full connection snapshot: identity, access,
// activity stats, queue membership, and the active chat if there is one
// (which is also auto-joined). Sent on connect and on refresh.
func (g *Gateway) sendInitialState(c *ws.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	userID := c.UserID()
	scope := scopeFor(c.Identity)

	var org *model.Organization
	if c.Identity.OrgID != nil {
		var err error
		org, err = g.stores.Orgs.Get(ctx, *c.Identity.OrgID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Printf("[gateway] load organization user=%s: %v", userID, err)
			return
		}
	}

	activity, err := g.activityInfo(ctx, scope)
	if err != nil {
		log.Printf("[gateway] activity stats user=%s: %v", userID, err)
		return
	}

	inQueue, err := g.stores.Waiting.Exists(ctx, userID)
	if err != nil {
		log.Printf("[gateway] queue membership user=%s: %v", userID, err)
		return
	}

	state := protocol.InitialStateEvent{
		User: protocol.UserInfo{
			ID:               userID,
			IsServiceAccount: c.Identity.Service,
		},
		Access:   accessInfo(c.Identity.Service, org, time.Now()),
		Activity: *activity,
		Queue:    protocol.QueueInfo{IsInQueue: inQueue},
	}

	// An existing active chat is auto-joined so a reconnecting user lands
	// straight back in their conversation.
	active, err := g.svc.ActiveChat(ctx, userID)
	if err != nil {
		log.Printf("[gateway] active chat lookup user=%s: %v", userID, err)
		return
	}
	if active != nil {
		if err := g.bus.SubscribeChat(userID, active.ID, g.onChatEvent(c)); err != nil {
			log.Printf("[gateway] chat channel subscribe failed user=%s: %v", userID, err)
		}
		if err := g.sessions.SetChatID(ctx, userID, active.ID); err != nil {
			log.Printf("[gateway] set chat session user=%s: %v", userID, err)
		}
		snapshot, err := g.chatSnapshot(ctx, active, userID)
		if err != nil {
			log.Printf("[gateway] chat snapshot user=%s: %v", userID, err)
			return
		}
		state.Chat = snapshot
	}

	g.send(c, protocol.EventInitialState, state)
}

// accessInfo computes the read-only access snapshot: whether the user may
// chat right now and, if not, why. Window enforcement itself happens before
// queue join is permitted; this only reports it to the client.
func accessInfo(service bool, org *model.Organization, now time.Time) protocol.AccessInfo {
	if service {
		return protocol.AccessInfo{
			CanAccess:        true,
			Message:          "Service account - full access granted",
			IsServiceAccount: true,
		}
	}

	if org == nil {
		return protocol.AccessInfo{
			CanAccess: false,
			Reason:    protocol.AccessNoOrganization,
			Message:   "No organization assigned.",
		}
	}

	if !org.Active {
		return protocol.AccessInfo{
			CanAccess:        false,
			Reason:           protocol.AccessOrganizationInactive,
			Message:          fmt.Sprintf("%s is not currently active.", org.Name),
			OrganizationName: org.Name,
		}
	}

	if !org.WindowOpen(now) {
		return protocol.AccessInfo{
			CanAccess:        false,
			Reason:           protocol.AccessOutsideWindow,
			Message:          fmt.Sprintf("Chat is available %s - %s", hhmm(org.WindowStart), hhmm(org.WindowEnd)),
			OrganizationName: org.Name,
			WindowStart:      org.WindowStart.String(),
			WindowEnd:        org.WindowEnd.String(),
		}
	}

	return protocol.AccessInfo{
		CanAccess:            true,
		Message:              "Access granted",
		OrganizationName:     org.Name,
		WindowStart:          org.WindowStart.String(),
		WindowEnd:            org.WindowEnd.String(),
		TimeRemainingSeconds: windowRemaining(now, org.WindowEnd),
	}
}

// hhmm formats a window bound as "HH:MM" for user-facing messages.
func hhmm(d model.DayTime) string {
	return fmt.Sprintf("%02d:%02d", d.Hour, d.Minute)
}

// windowRemaining returns the seconds from now until the window end, rolling
// over midnight when the end time has already passed today.
func windowRemaining(now time.Time, end model.DayTime) int {
	endToday := time.Date(now.Year(), now.Month(), now.Day(),
		end.Hour, end.Minute, end.Second, 0, now.Location())
	if endToday.Before(now) {
		endToday = endToday.Add(24 * time.Hour)
	}
	return int(endToday.Sub(now).Seconds())
}

// activityInfo builds the scope's usage snapshot for activity broadcasts.
// The service scope has no organization to report stats for.
func (g *Gateway) activityInfo(ctx context.Context, scope model.Scope) (*protocol.ActivityInfo, error) {
	orgID := scope.OrgID()
	if orgID == nil {
		return &protocol.ActivityInfo{Organization: "Service Account"}, nil
	}

	org, err := g.stores.Orgs.Get(ctx, *orgID)
	if err != nil {
		return nil, err
	}
	activeChats, err := g.stores.Chats.ActiveCount(ctx, *orgID)
	if err != nil {
		return nil, err
	}
	waiting, err := g.stores.Waiting.Count(ctx, scope)
	if err != nil {
		return nil, err
	}
	registered, err := g.stores.Users.CountByOrganization(ctx, *orgID)
	if err != nil {
		return nil, err
	}

	return &protocol.ActivityInfo{
		Organization:    org.Name,
		OrganizationID:  org.ID,
		ActiveChats:     activeChats,
		WaitingCount:    waiting,
		RegisteredUsers: registered,
	}, nil
}

// chatSnapshot builds the full chat view for one participant, including
// message history with per-viewer is_own flags.
func (g *Gateway) chatSnapshot(ctx context.Context, chat *model.Chat, viewerID string) (*protocol.ChatInfo, error) {
	orgName := "Unknown"
	if chat.OrganizationID != nil {
		org, err := g.stores.Orgs.Get(ctx, *chat.OrganizationID)
		if err == nil {
			orgName = org.Name
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	messages, err := g.stores.Messages.ListByChat(ctx, chat.ID)
	if err != nil {
		return nil, err
	}

	infos := make([]protocol.MessageInfo, 0, len(messages))
	for _, msg := range messages {
		infos = append(infos, protocol.MessageInfo{
			ID:          msg.ID,
			Content:     msg.Content,
			SenderID:    msg.SenderID,
			MessageType: msg.Type,
			Timestamp:   msg.CreatedAt.Format(time.RFC3339),
			IsOwn:       msg.SenderID != nil && *msg.SenderID == viewerID,
		})
	}

	return &protocol.ChatInfo{
		ChatID:       chat.ID,
		Organization: orgName,
		CreatedAt:    chat.CreatedAt.Format(time.RFC3339),
		IsActive:     chat.Active,
		Messages:     infos,
	}, nil
}
