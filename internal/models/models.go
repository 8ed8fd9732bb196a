package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Admin struct {
	ID       string
	Login    string `json:"login"`
	Password string `json:"password"`
}

type Lesson struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	OwnerID string `json:"owner_id"`
}

type LessonBlock struct {
	ID        string          `json:"id"`
	LessonID  string          `json:"lesson_id"`
	BlockType string          `json:"block_type"`
	Content   json.RawMessage `json:"content"`
	Order     int             `json:"order"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Payment is a row of the normalized payments table.
type Payment struct {
	ID               string
	ProfileID        string
	OrderID          string
	StatusNormalized string
	Amount           decimal.Decimal
	Currency         string
	TrackingID       string
	ReceiptURL       string
	CreatedAt        time.Time
}

// QueueEntry is a raw provider row waiting in the reconciliation queue.
type QueueEntry struct {
	ID         string
	ProfileID  string
	RawStatus  string
	Amount     decimal.Decimal
	Currency   string
	TrackingID string
	CreatedAt  time.Time
}

// UnifiedPayment is the read model merged from payments and the reconciliation queue.
type UnifiedPayment struct {
	ID               string          `json:"id"`
	Source           string          `json:"source"`
	ProfileID        string          `json:"profile_id,omitempty"`
	OrderID          string          `json:"order_id,omitempty"`
	StatusNormalized string          `json:"status_normalized"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	TrackingID       string          `json:"tracking_id,omitempty"`
	ReceiptURL       string          `json:"receipt_url,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

type PaymentFilter struct {
	Status    string
	ProfileID string
	Limit     int
	Offset    int
}

// Profile is a contact record. A profile without UserID is a ghost profile.
type Profile struct {
	ID     string
	UserID string
	Email  string
}

// Order is a deal; bulk deal creation inserts it already paid.
type Order struct {
	ID        string
	ProfileID string
	PaymentID string
	Amount    decimal.Decimal
	Currency  string
	Status    string
	Source    string
	CreatedAt time.Time
}

type AuditEntry struct {
	ID        string          `json:"id"`
	ActorID   string          `json:"actor_id"`
	Action    string          `json:"action"`
	Entity    string          `json:"entity"`
	EntityID  string          `json:"entity_id"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type Job struct {
	ID       string          `json:"id"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
}

// DeleteReport is the outcome of the two-phase asset deletion.
type DeleteReport struct {
	DryRun  bool     `json:"dry_run"`
	Allowed int      `json:"allowed"`
	Blocked int      `json:"blocked"`
	Deleted int      `json:"deleted"`
	Paths   []string `json:"blocked_paths,omitempty"`
}
