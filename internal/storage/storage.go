package storage

import (
	"context"
	"encoding/json"

	"github.com/madcarpet/lessonadmin/internal/models"
	"github.com/shopspring/decimal"
)

// Storage is the persistence contract of the service. Single-row getters return nil, nil when nothing is found.
type Storage interface {
	InitStorage(ctx context.Context) error
	DBClose() error

	GetAdminByLogin(ctx context.Context, login string) (*models.Admin, error)
	// AddAdmin inserts the account unless the login is taken. Reports whether a row was written.
	AddAdmin(ctx context.Context, a *models.Admin) (bool, error)

	GetLesson(ctx context.Context, id string) (*models.Lesson, error)
	GetBlocks(ctx context.Context, lessonID string) ([]models.LessonBlock, error)
	GetBlock(ctx context.Context, id string) (*models.LessonBlock, error)
	// InsertBlock places the block at b.Order shifting later blocks down.
	InsertBlock(ctx context.Context, b *models.LessonBlock) error
	UpdateBlockContent(ctx context.Context, id string, content json.RawMessage) error
	// DeleteBlock removes the block and closes the gap it leaves.
	DeleteBlock(ctx context.Context, id string) error
	// ReorderBlocks sets each block's order to its index in ids, in one transaction.
	ReorderBlocks(ctx context.Context, lessonID string, ids []string) error

	GetPayments(ctx context.Context) ([]models.Payment, error)
	GetPaymentsByIDs(ctx context.Context, ids []string) ([]models.Payment, error)
	GetQueueEntries(ctx context.Context) ([]models.QueueEntry, error)
	UpdatePaymentReceipt(ctx context.Context, paymentID string, receiptURL string) error
	FindPendingOrder(ctx context.Context, profileID string, amount decimal.Decimal, currency string) (*models.Order, error)
	LinkPaymentOrder(ctx context.Context, paymentID string, orderID string) error
	// CreateDeal inserts a paid order and links the payment to it.
	CreateDeal(ctx context.Context, o *models.Order) error
	GetProfile(ctx context.Context, id string) (*models.Profile, error)

	AddAuditEntry(ctx context.Context, e *models.AuditEntry) error
	AddJobDelayed(ctx context.Context, j *models.Job) error
	// ClaimJobsDelayed marks up to lim unclaimed jobs as taken for claimLease and returns them.
	// Concurrent callers never receive the same job while its claim holds.
	ClaimJobsDelayed(ctx context.Context, lim int) ([]models.Job, error)
	DeleteJobDelayed(ctx context.Context, id string) error
}
