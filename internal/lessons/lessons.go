// Package lessons implements the lesson block editor operations.
package lessons

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/madcarpet/lessonadmin/internal/blocks"
	"github.com/madcarpet/lessonadmin/internal/constants"
	"github.com/madcarpet/lessonadmin/internal/edge"
	"github.com/madcarpet/lessonadmin/internal/grading"
	"github.com/madcarpet/lessonadmin/internal/jobs"
	"github.com/madcarpet/lessonadmin/internal/logger"
	"github.com/madcarpet/lessonadmin/internal/models"
	"go.uber.org/zap"
)

var (
	ErrLessonNotFound    = errors.New("lesson not found")
	ErrBlockNotFound     = errors.New("block not found")
	ErrOrderMismatch     = errors.New("block ids do not match the lesson's blocks")
	ErrMissingLesson     = errors.New("lesson id is required")
	ErrOwnershipMismatch = errors.New("path is not owned by the lesson")
	ErrNoPaths           = errors.New("no paths given")
)

type Store interface {
	GetLesson(ctx context.Context, id string) (*models.Lesson, error)
	GetBlocks(ctx context.Context, lessonID string) ([]models.LessonBlock, error)
	GetBlock(ctx context.Context, id string) (*models.LessonBlock, error)
	InsertBlock(ctx context.Context, b *models.LessonBlock) error
	UpdateBlockContent(ctx context.Context, id string, content json.RawMessage) error
	DeleteBlock(ctx context.Context, id string) error
	ReorderBlocks(ctx context.Context, lessonID string, ids []string) error
}

type FileDeleter interface {
	DeleteFiles(ctx context.Context, paths []string, dryRun bool) (*edge.DeleteResult, error)
}

type Service struct {
	store Store
	files FileDeleter
	jobs  jobs.Enqueuer
}

func NewService(s Store, f FileDeleter, q jobs.Enqueuer) *Service {
	return &Service{store: s, files: f, jobs: q}
}

func (s *Service) lesson(ctx context.Context, lessonID string) error {
	if lessonID == "" {
		return ErrMissingLesson
	}
	l, err := s.store.GetLesson(ctx, lessonID)
	if err != nil {
		return err
	}
	if l == nil {
		return fmt.Errorf("%w: %s", ErrLessonNotFound, lessonID)
	}
	return nil
}

func (s *Service) ListBlocks(ctx context.Context, lessonID string) ([]models.LessonBlock, error) {
	if err := s.lesson(ctx, lessonID); err != nil {
		return nil, err
	}
	return s.store.GetBlocks(ctx, lessonID)
}

// CreateBlock validates the content and inserts the block. A nil position appends it.
func (s *Service) CreateBlock(ctx context.Context, actorID, lessonID string, t blocks.Type, content json.RawMessage, position *int) (*models.LessonBlock, error) {
	if err := s.lesson(ctx, lessonID); err != nil {
		return nil, err
	}
	c, err := blocks.Decode(t, content)
	if err != nil {
		return nil, err
	}
	normalized, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	b := &models.LessonBlock{
		ID:        uuid.New().String(),
		LessonID:  lessonID,
		BlockType: string(t),
		Content:   normalized,
		Order:     -1,
	}
	if position != nil {
		b.Order = *position
	}
	if err := s.store.InsertBlock(ctx, b); err != nil {
		return nil, err
	}
	jobs.Audit(ctx, s.jobs, actorID, "block.create", "lesson_block", b.ID, map[string]any{"lesson_id": lessonID, "type": t, "order": b.Order})
	return b, nil
}

func (s *Service) block(ctx context.Context, id string) (*models.LessonBlock, blocks.Content, error) {
	b, err := s.store.GetBlock(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if b == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrBlockNotFound, id)
	}
	c, err := blocks.Decode(blocks.Type(b.BlockType), b.Content)
	if err != nil {
		return b, nil, err
	}
	return b, c, nil
}

// UpdateBlock replaces the content of a block. Files the old content referenced and the new one does not
// are removed in the background.
func (s *Service) UpdateBlock(ctx context.Context, actorID, blockID string, content json.RawMessage) (*models.LessonBlock, error) {
	b, before, err := s.block(ctx, blockID)
	if err != nil && b == nil {
		return nil, err
	}
	if err != nil {
		// stored content predates a validation rule, it can still be replaced
		logger.Log.Warn("stored block content is invalid", zap.String("block", blockID), zap.Error(err))
	}
	after, err := blocks.Decode(blocks.Type(b.BlockType), content)
	if err != nil {
		return nil, err
	}
	normalized, err := json.Marshal(after)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateBlockContent(ctx, blockID, normalized); err != nil {
		return nil, err
	}
	b.Content = normalized

	if released := blocks.Released(before, after); len(released) > 0 {
		s.releaseAssets(ctx, b.LessonID, released)
	}
	jobs.Audit(ctx, s.jobs, actorID, "block.update", "lesson_block", blockID, map[string]any{"lesson_id": b.LessonID})
	return b, nil
}

func (s *Service) DeleteBlock(ctx context.Context, actorID, blockID string) error {
	b, c, err := s.block(ctx, blockID)
	if err != nil && b == nil {
		return err
	}
	if err := s.store.DeleteBlock(ctx, blockID); err != nil {
		return err
	}
	if c != nil {
		if released := blocks.AssetPaths(c); len(released) > 0 {
			s.releaseAssets(ctx, b.LessonID, released)
		}
	}
	jobs.Audit(ctx, s.jobs, actorID, "block.delete", "lesson_block", blockID, map[string]any{"lesson_id": b.LessonID, "type": b.BlockType})
	return nil
}

// releaseAssets queues removal of owned paths that no block of the lesson references anymore.
// Must run after the mutation is stored. Paths outside the lesson are left for a human.
func (s *Service) releaseAssets(ctx context.Context, lessonID string, paths []string) {
	var owned []string
	for _, p := range paths {
		if ownedBy(lessonID, p) {
			owned = append(owned, p)
		}
	}
	if len(owned) == 0 {
		return
	}
	remaining, err := s.store.GetBlocks(ctx, lessonID)
	if err != nil {
		logger.Log.Error("release assets error - loading lesson blocks failed, nothing released",
			zap.String("lesson", lessonID), zap.Error(err))
		return
	}
	owned = unreferenced(owned, remaining)
	if len(owned) == 0 {
		return
	}
	err = s.jobs.Enqueue(ctx, constants.JobDeleteAssets, jobs.DeleteAssetsPayload{LessonID: lessonID, Paths: owned})
	if err != nil {
		logger.Log.Error("release assets error - enqueue failed", zap.String("lesson", lessonID), zap.Error(err))
	}
}

// ReorderBlocks applies a full ordering. ids must be exactly the lesson's block set.
func (s *Service) ReorderBlocks(ctx context.Context, actorID, lessonID string, ids []string) ([]models.LessonBlock, error) {
	current, err := s.ListBlocks(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	if len(current) != len(ids) {
		return nil, fmt.Errorf("%w: got %d ids, lesson has %d blocks", ErrOrderMismatch, len(ids), len(current))
	}
	known := make(map[string]struct{}, len(current))
	for _, b := range current {
		known[b.ID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			return nil, fmt.Errorf("%w: unknown block %s", ErrOrderMismatch, id)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate block %s", ErrOrderMismatch, id)
		}
		seen[id] = struct{}{}
	}
	if err := s.store.ReorderBlocks(ctx, lessonID, ids); err != nil {
		return nil, err
	}
	jobs.Audit(ctx, s.jobs, actorID, "block.reorder", "lesson", lessonID, map[string]any{"order": ids})
	return s.store.GetBlocks(ctx, lessonID)
}

// GradeBlock scores a learner answer against a quiz-like block.
func (s *Service) GradeBlock(ctx context.Context, blockID string, answer json.RawMessage) (grading.Result, error) {
	_, c, err := s.block(ctx, blockID)
	if err != nil {
		return grading.Result{}, err
	}
	return blocks.Grade(c, answer)
}

// DeleteAssets removes lesson files in two phases. The dry run always happens; the delete only when
// confirm is set, and only for the paths the dry run allowed.
func (s *Service) DeleteAssets(ctx context.Context, actorID, lessonID string, paths []string, confirm bool) (*models.DeleteReport, error) {
	if lessonID == "" {
		logger.Log.Warn("STOP: delete assets without lesson id", zap.String("actor", actorID))
		return nil, ErrMissingLesson
	}
	if len(paths) == 0 {
		return nil, ErrNoPaths
	}
	for _, p := range paths {
		if !ownedBy(lessonID, p) {
			logger.Log.Warn("STOP: delete assets ownership mismatch",
				zap.String("actor", actorID), zap.String("lesson", lessonID), zap.String("path", p))
			return nil, fmt.Errorf("%w: %s", ErrOwnershipMismatch, p)
		}
	}
	if err := s.lesson(ctx, lessonID); err != nil {
		return nil, err
	}

	dry, err := s.files.DeleteFiles(ctx, paths, true)
	if err != nil {
		return nil, err
	}
	report := &models.DeleteReport{DryRun: true, Allowed: dry.Allowed, Blocked: dry.Blocked, Paths: dry.BlockedPaths}
	if !confirm || len(dry.AllowedPaths) == 0 {
		return report, nil
	}

	done, err := s.files.DeleteFiles(ctx, dry.AllowedPaths, false)
	if err != nil {
		return nil, err
	}
	report.DryRun = false
	report.Deleted = done.Deleted
	jobs.Audit(ctx, s.jobs, actorID, "assets.delete", "lesson", lessonID,
		map[string]any{"deleted": done.Deleted, "blocked": dry.Blocked, "paths": dry.AllowedPaths})
	return report, nil
}

// unreferenced drops the paths still used by any of the blocks. Content that no longer decodes
// is matched on its raw bytes so a stale block still protects its files.
func unreferenced(paths []string, bs []models.LessonBlock) []string {
	used := map[string]struct{}{}
	var raw [][]byte
	for _, b := range bs {
		c, err := blocks.Decode(blocks.Type(b.BlockType), b.Content)
		if err != nil {
			raw = append(raw, b.Content)
			continue
		}
		for _, p := range blocks.AssetPaths(c) {
			used[p] = struct{}{}
		}
	}
	var out []string
	for _, p := range paths {
		if _, ok := used[p]; ok {
			continue
		}
		if referencedRaw(raw, p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func referencedRaw(contents [][]byte, path string) bool {
	quoted, _ := json.Marshal(path)
	for _, c := range contents {
		if bytes.Contains(c, quoted) {
			return true
		}
	}
	return false
}

func ownedBy(lessonID, path string) bool {
	prefix := constants.LessonAssetsPrefix + lessonID + "/"
	return strings.HasPrefix(path, prefix) && !strings.Contains(path, "..") && len(path) > len(prefix)
}
