// Package payments serves the payments back office: the unified payments read model and
// the bulk actions run over a selection of payments.
package payments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/madcarpet/lessonadmin/internal/batch"
	"github.com/madcarpet/lessonadmin/internal/cache"
	"github.com/madcarpet/lessonadmin/internal/constants"
	"github.com/madcarpet/lessonadmin/internal/edge"
	"github.com/madcarpet/lessonadmin/internal/jobs"
	"github.com/madcarpet/lessonadmin/internal/logger"
	"github.com/madcarpet/lessonadmin/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	cachePrefix      = "payments:"
	defaultPageLimit = 50
	maxPageLimit     = 500
)

var (
	ErrEmptySelection  = errors.New("no payments selected")
	ErrNoMatchingOrder = errors.New("no matching pending order")
	ErrMissingProfile  = errors.New("payment has no profile")
	ErrProfileNotFound = errors.New("profile not found")
)

type Store interface {
	GetPayments(ctx context.Context) ([]models.Payment, error)
	GetPaymentsByIDs(ctx context.Context, ids []string) ([]models.Payment, error)
	GetQueueEntries(ctx context.Context) ([]models.QueueEntry, error)
	UpdatePaymentReceipt(ctx context.Context, paymentID string, receiptURL string) error
	FindPendingOrder(ctx context.Context, profileID string, amount decimal.Decimal, currency string) (*models.Order, error)
	LinkPaymentOrder(ctx context.Context, paymentID string, orderID string) error
	CreateDeal(ctx context.Context, o *models.Order) error
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
}

// Backend is the subset of edge functions the bulk actions call.
type Backend interface {
	FetchReceipt(ctx context.Context, paymentUID string) (*edge.Receipt, error)
	GrantAccess(ctx context.Context, profileID, productID string) error
}

// Limits configures one bulk action.
type Limits struct {
	Max   int
	Delay time.Duration
}

type Config struct {
	Receipts  Limits
	Links     Limits
	Deals     Limits
	ProductID string
}

type Service struct {
	store   Store
	backend Backend
	cache   cache.Cache
	jobs    jobs.Enqueuer
	cfg     Config
	newID   func() string
}

func NewService(s Store, b Backend, c cache.Cache, q jobs.Enqueuer, cfg Config, newID func() string) *Service {
	if c == nil {
		c = cache.Nop{}
	}
	return &Service{store: s, backend: b, cache: c, jobs: q, cfg: cfg, newID: newID}
}

// NormalizeStatus maps raw provider statuses onto the normalized set.
func NormalizeStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "succeeded", "successful", "success", "paid", "completed", "captured", "settled":
		return constants.PaymentSucceeded
	case "pending", "processing", "created", "authorized", "in_progress":
		return constants.PaymentPending
	case "failed", "declined", "error", "canceled", "cancelled", "expired":
		return constants.PaymentFailed
	case "refunded", "chargeback", "reversed":
		return constants.PaymentRefunded
	default:
		return constants.PaymentUnknown
	}
}

// Merge builds the unified read model. Queue rows whose tracking id already reached the
// payments table are dropped. Newest first.
func Merge(payments []models.Payment, queue []models.QueueEntry) []models.UnifiedPayment {
	out := make([]models.UnifiedPayment, 0, len(payments)+len(queue))
	tracked := make(map[string]struct{}, len(payments))
	for _, p := range payments {
		if p.TrackingID != "" {
			tracked[p.TrackingID] = struct{}{}
		}
		out = append(out, models.UnifiedPayment{
			ID:               p.ID,
			Source:           constants.SourcePayments,
			ProfileID:        p.ProfileID,
			OrderID:          p.OrderID,
			StatusNormalized: p.StatusNormalized,
			Amount:           p.Amount,
			Currency:         p.Currency,
			TrackingID:       p.TrackingID,
			ReceiptURL:       p.ReceiptURL,
			CreatedAt:        p.CreatedAt,
		})
	}
	for _, q := range queue {
		if _, dup := tracked[q.TrackingID]; dup && q.TrackingID != "" {
			continue
		}
		out = append(out, models.UnifiedPayment{
			ID:               q.ID,
			Source:           constants.SourceQueue,
			ProfileID:        q.ProfileID,
			StatusNormalized: NormalizeStatus(q.RawStatus),
			Amount:           q.Amount,
			Currency:         strings.ToUpper(q.Currency),
			TrackingID:       q.TrackingID,
			CreatedAt:        q.CreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func applyFilter(all []models.UnifiedPayment, f models.PaymentFilter) []models.UnifiedPayment {
	filtered := make([]models.UnifiedPayment, 0, len(all))
	for _, p := range all {
		if f.Status != "" && p.StatusNormalized != f.Status {
			continue
		}
		if f.ProfileID != "" && p.ProfileID != f.ProfileID {
			continue
		}
		filtered = append(filtered, p)
	}
	if f.Offset >= len(filtered) {
		return []models.UnifiedPayment{}
	}
	end := f.Offset + f.Limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[f.Offset:end]
}

func normalizeFilter(f models.PaymentFilter) models.PaymentFilter {
	if f.Limit <= 0 {
		f.Limit = defaultPageLimit
	}
	if f.Limit > maxPageLimit {
		f.Limit = maxPageLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func cacheKey(f models.PaymentFilter) string {
	return fmt.Sprintf("%sstatus=%s:profile=%s:limit=%d:offset=%d", cachePrefix, f.Status, f.ProfileID, f.Limit, f.Offset)
}

// ListUnified loads both sources in parallel, merges them and returns one page.
func (s *Service) ListUnified(ctx context.Context, f models.PaymentFilter) ([]models.UnifiedPayment, error) {
	f = normalizeFilter(f)
	key := cacheKey(f)
	var cached []models.UnifiedPayment
	if ok, err := s.cache.Get(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}

	var payments []models.Payment
	var queue []models.QueueEntry
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		payments, err = s.store.GetPayments(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		queue, err = s.store.GetQueueEntries(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	page := applyFilter(Merge(payments, queue), f)
	if err := s.cache.Set(ctx, key, page); err != nil {
		logger.Log.Warn("payments cache set failed", zap.Error(err))
	}
	return page, nil
}

// selection loads the selected payments in request order. Unknown ids are returned separately.
func (s *Service) selection(ctx context.Context, ids []string) ([]models.Payment, int, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, 0, ErrEmptySelection
	}
	rows, err := s.store.GetPaymentsByIDs(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	byID := make(map[string]models.Payment, len(rows))
	for _, p := range rows {
		byID[p.ID] = p
	}
	ordered := make([]models.Payment, 0, len(rows))
	missing := 0
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			missing++
			continue
		}
		ordered = append(ordered, p)
	}
	return ordered, missing, nil
}

func (s *Service) run(ctx context.Context, actorID, name string, ids []string, eligible func(models.Payment) bool, limits Limits, action batch.Action[models.Payment]) (batch.Result, error) {
	selected, missing, err := s.selection(ctx, ids)
	if err != nil {
		return batch.Result{}, err
	}
	work := make([]models.Payment, 0, len(selected))
	for _, p := range selected {
		if eligible(p) {
			work = append(work, p)
		}
	}
	excluded := missing + len(selected) - len(work)

	res := batch.Run(ctx, work, paymentID, action, batch.Options{Limit: limits.Max, Delay: limits.Delay, Name: name})
	res.Exclude(excluded)

	if res.LimitSkipped > 0 {
		logger.Log.Warn("bulk action selection over limit",
			zap.String("batch", name), zap.Int("limit", limits.Max), zap.Int("skipped", res.LimitSkipped))
	}
	if err := s.cache.Invalidate(ctx, cachePrefix); err != nil {
		logger.Log.Warn("payments cache invalidate failed", zap.Error(err))
	}
	jobs.Audit(ctx, s.jobs, actorID, "payments."+name, "payments", fmt.Sprintf("%d selected", res.Total), res)
	return res, nil
}

// FetchReceipts pulls the provider receipt for each selected payment that has a tracking id.
func (s *Service) FetchReceipts(ctx context.Context, actorID string, ids []string) (batch.Result, error) {
	eligible := func(p models.Payment) bool { return p.TrackingID != "" }
	return s.run(ctx, actorID, "receipts", ids, eligible, s.cfg.Receipts, func(ctx context.Context, p models.Payment) error {
		r, err := s.backend.FetchReceipt(ctx, p.TrackingID)
		if err != nil {
			return err
		}
		return s.store.UpdatePaymentReceipt(ctx, p.ID, r.ReceiptURL)
	})
}

// LinkOrders attaches each succeeded, unlinked payment to the oldest pending order with the same
// profile, amount and currency.
func (s *Service) LinkOrders(ctx context.Context, actorID string, ids []string) (batch.Result, error) {
	eligible := func(p models.Payment) bool {
		return p.StatusNormalized == constants.PaymentSucceeded && p.OrderID == ""
	}
	return s.run(ctx, actorID, "link-orders", ids, eligible, s.cfg.Links, func(ctx context.Context, p models.Payment) error {
		if p.ProfileID == "" {
			return ErrMissingProfile
		}
		o, err := s.store.FindPendingOrder(ctx, p.ProfileID, p.Amount, p.Currency)
		if err != nil {
			return err
		}
		if o == nil {
			return ErrNoMatchingOrder
		}
		return s.store.LinkPaymentOrder(ctx, p.ID, o.ID)
	})
}

// CreateDeals creates a paid deal for each succeeded, unlinked payment. Access is granted only to
// profiles with a user account; ghost profiles get the deal alone.
func (s *Service) CreateDeals(ctx context.Context, actorID string, ids []string) (batch.Result, error) {
	eligible := func(p models.Payment) bool {
		return p.StatusNormalized == constants.PaymentSucceeded && p.OrderID == ""
	}
	return s.run(ctx, actorID, "deals", ids, eligible, s.cfg.Deals, func(ctx context.Context, p models.Payment) error {
		if p.ProfileID == "" {
			logger.Log.Warn("STOP: deal without profile id", zap.String("payment", p.ID))
			return ErrMissingProfile
		}
		profile, err := s.store.GetProfile(ctx, p.ProfileID)
		if err != nil {
			return err
		}
		if profile == nil {
			return fmt.Errorf("%w: %s", ErrProfileNotFound, p.ProfileID)
		}
		deal := &models.Order{
			ID:        s.newID(),
			ProfileID: p.ProfileID,
			PaymentID: p.ID,
			Amount:    p.Amount,
			Currency:  p.Currency,
			Status:    constants.OrderPaid,
			Source:    "bulk",
		}
		if err := s.store.CreateDeal(ctx, deal); err != nil {
			return err
		}
		if profile.UserID != "" && s.cfg.ProductID != "" {
			if err := s.backend.GrantAccess(ctx, profile.ID, s.cfg.ProductID); err != nil {
				return fmt.Errorf("deal %s created, access grant failed: %w", batch.ShortID(deal.ID), err)
			}
		}
		if err := s.jobs.Enqueue(ctx, constants.JobCRMSync, jobs.CRMSyncPayload{DealID: deal.ID, ProfileID: deal.ProfileID}); err != nil {
			logger.Log.Error("crm sync enqueue error", zap.String("deal", deal.ID), zap.Error(err))
		}
		return nil
	})
}

func paymentID(p models.Payment) string { return p.ID }

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
