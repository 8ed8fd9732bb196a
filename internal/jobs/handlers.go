package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/madcarpet/lessonadmin/internal/constants"
	"github.com/madcarpet/lessonadmin/internal/edge"
	"github.com/madcarpet/lessonadmin/internal/logger"
	"github.com/madcarpet/lessonadmin/internal/models"
	"go.uber.org/zap"
)

type DeleteAssetsPayload struct {
	LessonID string   `json:"lesson_id"`
	Paths    []string `json:"paths"`
}

type CRMSyncPayload struct {
	DealID    string `json:"deal_id"`
	ProfileID string `json:"profile_id"`
}

type AuditStore interface {
	AddAuditEntry(ctx context.Context, e *models.AuditEntry) error
}

type FileDeleter interface {
	DeleteFiles(ctx context.Context, paths []string, dryRun bool) (*edge.DeleteResult, error)
}

type DealSyncer interface {
	SyncDeal(ctx context.Context, dealID, profileID string) error
}

// Audit queues an audit log entry. Queue errors are logged, never returned: the action itself already happened.
func Audit(ctx context.Context, q Enqueuer, actorID, action, entity, entityID string, details any) {
	entry := models.AuditEntry{
		ID:        uuid.New().String(),
		ActorID:   actorID,
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		CreatedAt: time.Now().UTC(),
	}
	if details != nil {
		raw, err := json.Marshal(details)
		if err == nil {
			entry.Details = raw
		}
	}
	if err := q.Enqueue(ctx, constants.JobAudit, entry); err != nil {
		logger.Log.Error("audit enqueue error", zap.String("action", action), zap.String("entity_id", entityID), zap.Error(err))
	}
}

func AuditHandler(s AuditStore) Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var entry models.AuditEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return fmt.Errorf("audit payload: %w", err)
		}
		return s.AddAuditEntry(ctx, &entry)
	}
}

// DeleteAssetsHandler removes files a block stopped referencing: dry run first, then only the allowed paths.
func DeleteAssetsHandler(d FileDeleter) Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var p DeleteAssetsPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("delete assets payload: %w", err)
		}
		if len(p.Paths) == 0 {
			return nil
		}
		dry, err := d.DeleteFiles(ctx, p.Paths, true)
		if err != nil {
			return err
		}
		if dry.Blocked > 0 {
			logger.Log.Warn("replaced assets kept - blocked by delete function",
				zap.String("lesson", p.LessonID), zap.Strings("paths", dry.BlockedPaths))
		}
		if len(dry.AllowedPaths) == 0 {
			return nil
		}
		_, err = d.DeleteFiles(ctx, dry.AllowedPaths, false)
		return err
	}
}

func CRMSyncHandler(c DealSyncer) Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var p CRMSyncPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("crm sync payload: %w", err)
		}
		return c.SyncDeal(ctx, p.DealID, p.ProfileID)
	}
}
