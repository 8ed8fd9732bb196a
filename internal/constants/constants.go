package constants

const (
	CntTypeHeaderJSON = "application/json"
	CntTypeHeaderText = "text/plain"
	HeaderToken       = "Authorization"
)

// Normalized payment statuses
const (
	PaymentSucceeded = "succeeded"
	PaymentPending   = "pending"
	PaymentFailed    = "failed"
	PaymentRefunded  = "refunded"
	PaymentUnknown   = "unknown"
)

// Sources merged into the unified payments read model
const (
	SourcePayments = "payments"
	SourceQueue    = "queue"
)

// Order (deal) statuses
const (
	OrderPending = "pending"
	OrderPaid    = "paid"
)

// Background job kinds
const (
	JobAudit        = "audit"
	JobDeleteAssets = "delete_assets"
	JobCRMSync      = "crm_sync"
)

// Lesson storage paths are owned by the lesson when they start with this prefix followed by the lesson id
const LessonAssetsPrefix = "lessons/"
