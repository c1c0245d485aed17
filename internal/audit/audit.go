package audit

import (
	"context"
	"log/slog"

	"github.com/khanghh/koidc/model"
)

var auditRepo AuditEventRepository = nopRepository{}

// Initialize installs the repository that receives audit events. Events
// recorded before Initialize are only logged.
func Initialize(repo AuditEventRepository) {
	if repo == nil {
		repo = nopRepository{}
	}
	auditRepo = repo
}

const (
	EventTypeTokenRevoked      = "token_revoked"
	EventTypeTokenRevokeFailed = "token_revoke_failed"
	EventTypeCibaRegistered    = "ciba_registered"
	EventTypeCibaExpired       = "ciba_expired"
)

type TokenRevokeRecord struct {
	ClientID      string
	TokenTypeHint string
	Count         int64
	Success       bool
	Reason        string
	IP            string
	UserAgent     string
}

type CibaRecord struct {
	ClientID  string
	UserID    string
	AuthReqID string
	Reason    string
	IP        string
	UserAgent string
}

func record(ctx context.Context, event *model.AuditEvent) error {
	slog.Info("audit",
		"event", event.EventType,
		"clientID", event.ClientID,
		"success", event.Success,
		"count", event.Count,
		"reason", event.Reason,
	)
	return auditRepo.RecordEvent(ctx, event)
}

func RecordTokenRevoke(ctx context.Context, rec TokenRevokeRecord) error {
	eventType := EventTypeTokenRevokeFailed
	if rec.Success {
		eventType = EventTypeTokenRevoked
	}
	return record(ctx, &model.AuditEvent{
		EventType:     eventType,
		ClientID:      rec.ClientID,
		TokenTypeHint: rec.TokenTypeHint,
		Success:       rec.Success,
		Count:         rec.Count,
		Reason:        rec.Reason,
		IP:            rec.IP,
		UserAgent:     rec.UserAgent,
	})
}

func RecordCibaRegistered(ctx context.Context, rec CibaRecord) error {
	return record(ctx, &model.AuditEvent{
		EventType: EventTypeCibaRegistered,
		ClientID:  rec.ClientID,
		UserID:    rec.UserID,
		AuthReqID: rec.AuthReqID,
		Success:   true,
		IP:        rec.IP,
		UserAgent: rec.UserAgent,
	})
}

func RecordCibaExpired(ctx context.Context, rec CibaRecord) error {
	return record(ctx, &model.AuditEvent{
		EventType: EventTypeCibaExpired,
		ClientID:  rec.ClientID,
		UserID:    rec.UserID,
		AuthReqID: rec.AuthReqID,
		Success:   true,
		Reason:    rec.Reason,
	})
}
