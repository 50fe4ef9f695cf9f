package notify

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/dukerupert/dosewatch/internal/push"
	"github.com/dukerupert/dosewatch/internal/store"
	"github.com/dukerupert/dosewatch/internal/websocket"
)

// Notifier persists notification rows and best-effort delivers them to
// connected websocket clients and registered push devices. Persistence is
// part of the triggering business action and its failure is returned to the
// caller; everything after it is a side channel whose failures are logged
// and swallowed.
type Notifier struct {
	notifications *store.NotificationStore
	pushTokens    *store.PushStore
	client        *push.Client
	hub           *websocket.Hub
	logger        *slog.Logger
}

func New(ns *store.NotificationStore, ps *store.PushStore, client *push.Client, hub *websocket.Hub, logger *slog.Logger) *Notifier {
	return &Notifier{
		notifications: ns,
		pushTokens:    ps,
		client:        client,
		hub:           hub,
		logger:        logger,
	}
}

// Send creates one notification row per recipient, then attempts delivery.
// The row inserts are synchronous; an insert failure aborts and is returned.
func (n *Notifier) Send(ctx context.Context, userIDs []int64, notifType, title, message string, relatedID *int64) error {
	if len(userIDs) == 0 {
		return nil
	}

	for _, userID := range userIDs {
		created, err := n.notifications.Create(userID, notifType, title, message, relatedID)
		if err != nil {
			return fmt.Errorf("create notification for user %d: %w", userID, err)
		}
		if n.hub != nil {
			n.hub.SendToUser(userID, websocket.Message{
				Type: "notification_created",
				ID:   created.ID,
				Extra: map[string]any{
					"notification_type": notifType,
					"title":             title,
				},
			})
		}
	}

	n.sendPush(ctx, userIDs, notifType, title, message, relatedID)
	return nil
}

// sendPush delivers one batch to every registered device of the recipient
// set. Tokens the provider reports as unregistered are deleted; all other
// failures are logged and never surfaced.
func (n *Notifier) sendPush(ctx context.Context, userIDs []int64, notifType, title, message string, relatedID *int64) {
	if n.client == nil {
		return
	}

	tokens, err := n.pushTokens.ListByUsers(userIDs)
	if err != nil {
		n.logger.Error("list push tokens", "error", err)
		return
	}

	data := map[string]any{"type": notifType}
	if relatedID != nil {
		data["related_id"] = *relatedID
	}

	var messages []push.Message
	var tokenStrings []string
	for _, t := range tokens {
		if !push.IsValidToken(t.Token) {
			continue
		}
		messages = append(messages, push.Message{
			To:    t.Token,
			Sound: "default",
			Title: title,
			Body:  message,
			Data:  data,
		})
		tokenStrings = append(tokenStrings, t.Token)
	}
	if len(messages) == 0 {
		return
	}

	tickets, err := n.client.SendBatch(ctx, messages)
	if err != nil {
		n.logger.Error("send push batch", "type", notifType, "error", err)
		return
	}

	var delivery error
	for i, ticket := range tickets {
		if ticket.DeviceNotRegistered() {
			if err := n.pushTokens.DeleteByToken(tokenStrings[i]); err != nil {
				n.logger.Error("delete dead push token", "error", err)
			}
			continue
		}
		if ticket.Status != "ok" {
			delivery = multierr.Append(delivery, fmt.Errorf("ticket %d: %s", i, ticket.Message))
		}
	}
	if delivery != nil {
		n.logger.Warn("partial push delivery failure", "type", notifType, "error", delivery)
	}
}
