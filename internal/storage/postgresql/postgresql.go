package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/madcarpet/lessonadmin/internal/constants"
	"github.com/madcarpet/lessonadmin/internal/logger"
	"github.com/madcarpet/lessonadmin/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	migrationsSource = "file://db/migrations"
	queryTimeout     = 3 * time.Second
	// claimLease is how long a claimed delayed job stays invisible to other workers.
	// A worker that dies mid-job releases it when the lease runs out.
	claimLease = 5 * time.Minute
)

// claimJobsQuery takes rows other transactions are not holding and stamps a lease on them in one statement.
const claimJobsQuery = `UPDATE jobs_delayed SET claimed_until = now() + make_interval(secs => $2)
WHERE id IN (
	SELECT id FROM jobs_delayed
	WHERE claimed_until IS NULL OR claimed_until < now()
	ORDER BY attempts
	LIMIT $1
	FOR UPDATE SKIP LOCKED
)
RETURNING id, kind, payload, attempts`

var ErrRowsMismatch = errors.New("affected rows mismatch")

func dbMigrate(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		logger.Log.Error("db driver error on migration", zap.Error(err))
		return err
	}
	m, err := migrate.NewWithDatabaseInstance(migrationsSource, "postgres", driver)
	if err != nil {
		logger.Log.Error("migration instance creation error on migration", zap.Error(err))
		return err
	}
	_, dirty, err := m.Version()
	if err != nil {
		switch {
		case errors.Is(err, migrate.ErrNilVersion):
			logger.Log.Info("no migration was applied yet - first migration")
		default:
			logger.Log.Error("checking database dirty on migration error", zap.Error(err))
			return err
		}
	}
	if dirty {
		logger.Log.Error("migration - database is in dirty state")
		return errors.New("database is in dirty migration state")
	}
	err = m.Up()
	if err != nil {
		switch {
		case errors.Is(err, migrate.ErrNoChange):
			logger.Log.Info("migration - db version is up to date")
			return nil
		default:
			logger.Log.Error("db migration error", zap.Error(err))
			return err
		}
	}
	return nil
}

type PsqlStorage struct {
	dbAddress  string
	connection *sql.DB
}

func NewPsqlStorage(dba string) *PsqlStorage {
	return &PsqlStorage{dbAddress: dba}
}

func (s *PsqlStorage) InitStorage(ctx context.Context) error {
	db, err := sql.Open("pgx", s.dbAddress)
	if err != nil {
		logger.Log.Error("openning db connection error", zap.Error(err))
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	err = db.PingContext(pingCtx)
	if err != nil {
		logger.Log.Error("db ping err", zap.Error(err))
		return err
	}
	err = dbMigrate(db)
	if err != nil {
		return err
	}
	s.connection = db
	logger.Log.Info("db connection is ready")
	return nil
}

func (s *PsqlStorage) DBClose() error {
	if s.connection == nil {
		return nil
	}
	return s.connection.Close()
}

// inTx runs fn in a transaction and commits when it returns nil.
func (s *PsqlStorage) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.connection.BeginTx(ctx, nil)
	if err != nil {
		logger.Log.Error(op+" error - transaction open failed", zap.Error(err))
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		logger.Log.Error(op+" error - transaction rolled back", zap.Error(err))
		return err
	}
	return tx.Commit()
}

func (s *PsqlStorage) GetAdminByLogin(ctx context.Context, login string) (*models.Admin, error) {
	var admin models.Admin
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	row := s.connection.QueryRowContext(ctx,
		"SELECT id, login, pwdhash FROM admins WHERE login = $1", login)
	err := row.Scan(&admin.ID, &admin.Login, &admin.Password)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		logger.Log.Error("get admin by login error - db row scan error", zap.Error(err))
		return nil, err
	}
	return &admin, nil
}

func (s *PsqlStorage) AddAdmin(ctx context.Context, a *models.Admin) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	res, err := s.connection.ExecContext(ctx,
		"INSERT INTO admins (id, login, pwdhash) VALUES ($1, $2, $3) ON CONFLICT (login) DO NOTHING",
		a.ID, a.Login, a.Password)
	if err != nil {
		logger.Log.Error("add admin error - db exec error", zap.Error(err))
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PsqlStorage) GetLesson(ctx context.Context, id string) (*models.Lesson, error) {
	var lesson models.Lesson
	var owner sql.NullString
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	row := s.connection.QueryRowContext(ctx,
		"SELECT id, title, owner_id FROM lessons WHERE id = $1", id)
	err := row.Scan(&lesson.ID, &lesson.Title, &owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		logger.Log.Error("get lesson error - db row scan error", zap.String("lesson", id), zap.Error(err))
		return nil, err
	}
	lesson.OwnerID = owner.String
	return &lesson, nil
}

const blockColumns = "id, lesson_id, block_type, content, position, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlock(r rowScanner) (models.LessonBlock, error) {
	var b models.LessonBlock
	var content []byte
	err := r.Scan(&b.ID, &b.LessonID, &b.BlockType, &content, &b.Order, &b.UpdatedAt)
	b.Content = json.RawMessage(content)
	return b, err
}

func (s *PsqlStorage) GetBlocks(ctx context.Context, lessonID string) ([]models.LessonBlock, error) {
	blocks := []models.LessonBlock{}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	rows, err := s.connection.QueryContext(ctx,
		"SELECT "+blockColumns+" FROM lesson_blocks WHERE lesson_id = $1 ORDER BY position", lessonID)
	if err != nil {
		logger.Log.Error("get blocks error - query error", zap.Error(err))
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			logger.Log.Error("get blocks error - scan error", zap.Error(err))
			return nil, err
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		logger.Log.Error("get blocks error - iteration error", zap.Error(err))
		return nil, err
	}
	return blocks, nil
}

func (s *PsqlStorage) GetBlock(ctx context.Context, id string) (*models.LessonBlock, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	b, err := scanBlock(s.connection.QueryRowContext(ctx,
		"SELECT "+blockColumns+" FROM lesson_blocks WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		logger.Log.Error("get block error - db row scan error", zap.String("block", id), zap.Error(err))
		return nil, err
	}
	return &b, nil
}

func (s *PsqlStorage) InsertBlock(ctx context.Context, b *models.LessonBlock) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return s.inTx(ctx, "insert block", func(tx *sql.Tx) error {
		// lock the lesson row so concurrent inserts get consistent positions
		if _, err := tx.ExecContext(ctx, "SELECT id FROM lessons WHERE id = $1 FOR UPDATE", b.LessonID); err != nil {
			return err
		}
		var count int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM lesson_blocks WHERE lesson_id = $1", b.LessonID).Scan(&count); err != nil {
			return err
		}
		if b.Order < 0 || b.Order > count {
			b.Order = count
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE lesson_blocks SET position = position + 1 WHERE lesson_id = $1 AND position >= $2",
			b.LessonID, b.Order); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx,
			`INSERT INTO lesson_blocks (id, lesson_id, block_type, content, position)
			VALUES ($1, $2, $3, $4, $5) RETURNING updated_at`,
			b.ID, b.LessonID, b.BlockType, string(b.Content), b.Order).Scan(&b.UpdatedAt)
	})
}

func (s *PsqlStorage) UpdateBlockContent(ctx context.Context, id string, content json.RawMessage) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	res, err := s.connection.ExecContext(ctx,
		"UPDATE lesson_blocks SET content = $1, updated_at = now() WHERE id = $2", string(content), id)
	if err != nil {
		logger.Log.Error("update block content error - db updating failed", zap.String("block", id), zap.Error(err))
		return err
	}
	return expectRows(res, 1)
}

func (s *PsqlStorage) DeleteBlock(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return s.inTx(ctx, "delete block", func(tx *sql.Tx) error {
		var lessonID string
		var position int
		err := tx.QueryRowContext(ctx,
			"DELETE FROM lesson_blocks WHERE id = $1 RETURNING lesson_id, position", id).Scan(&lessonID, &position)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE lesson_blocks SET position = position - 1 WHERE lesson_id = $1 AND position > $2",
			lessonID, position)
		return err
	})
}

func (s *PsqlStorage) ReorderBlocks(ctx context.Context, lessonID string, ids []string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return s.inTx(ctx, "reorder blocks", func(tx *sql.Tx) error {
		for i, id := range ids {
			res, err := tx.ExecContext(ctx,
				"UPDATE lesson_blocks SET position = $1, updated_at = now() WHERE id = $2 AND lesson_id = $3",
				i, id, lessonID)
			if err != nil {
				return err
			}
			if err := expectRows(res, 1); err != nil {
				return fmt.Errorf("block %s: %w", id, err)
			}
		}
		return nil
	})
}

const paymentColumns = "id, profile_id, order_id, status_normalized, amount, currency, tracking_id, receipt_url, created_at"

func scanPayment(r rowScanner) (models.Payment, error) {
	var p models.Payment
	var profileID, orderID, trackingID, receiptURL sql.NullString
	err := r.Scan(&p.ID, &profileID, &orderID, &p.StatusNormalized, &p.Amount, &p.Currency,
		&trackingID, &receiptURL, &p.CreatedAt)
	p.ProfileID = profileID.String
	p.OrderID = orderID.String
	p.TrackingID = trackingID.String
	p.ReceiptURL = receiptURL.String
	return p, err
}

func (s *PsqlStorage) queryPayments(ctx context.Context, query string, args ...any) ([]models.Payment, error) {
	payments := []models.Payment{}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	rows, err := s.connection.QueryContext(ctx, query, args...)
	if err != nil {
		logger.Log.Error("get payments error - query error", zap.Error(err))
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			logger.Log.Error("get payments error - scan error", zap.Error(err))
			return nil, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		logger.Log.Error("get payments error - iteration error", zap.Error(err))
		return nil, err
	}
	return payments, nil
}

func (s *PsqlStorage) GetPayments(ctx context.Context) ([]models.Payment, error) {
	return s.queryPayments(ctx, "SELECT "+paymentColumns+" FROM payments ORDER BY created_at DESC")
}

func (s *PsqlStorage) GetPaymentsByIDs(ctx context.Context, ids []string) ([]models.Payment, error) {
	return s.queryPayments(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id::text = ANY($1)", ids)
}

func (s *PsqlStorage) GetQueueEntries(ctx context.Context) ([]models.QueueEntry, error) {
	entries := []models.QueueEntry{}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	rows, err := s.connection.QueryContext(ctx,
		`SELECT id, profile_id, raw_status, amount, currency, tracking_id, created_at
		FROM reconciliation_queue ORDER BY created_at DESC`)
	if err != nil {
		logger.Log.Error("get queue entries error - query error", zap.Error(err))
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var e models.QueueEntry
		var profileID, trackingID sql.NullString
		err := rows.Scan(&e.ID, &profileID, &e.RawStatus, &e.Amount, &e.Currency, &trackingID, &e.CreatedAt)
		if err != nil {
			logger.Log.Error("get queue entries error - scan error", zap.Error(err))
			return nil, err
		}
		e.ProfileID = profileID.String
		e.TrackingID = trackingID.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		logger.Log.Error("get queue entries error - iteration error", zap.Error(err))
		return nil, err
	}
	return entries, nil
}

func (s *PsqlStorage) UpdatePaymentReceipt(ctx context.Context, paymentID string, receiptURL string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	res, err := s.connection.ExecContext(ctx,
		"UPDATE payments SET receipt_url = $1 WHERE id = $2", receiptURL, paymentID)
	if err != nil {
		logger.Log.Error("update payment receipt error - db updating failed", zap.String("payment", paymentID), zap.Error(err))
		return err
	}
	return expectRows(res, 1)
}

func (s *PsqlStorage) FindPendingOrder(ctx context.Context, profileID string, amount decimal.Decimal, currency string) (*models.Order, error) {
	var o models.Order
	var paymentID sql.NullString
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	row := s.connection.QueryRowContext(ctx,
		`SELECT id, profile_id, payment_id, amount, currency, status, source, created_at FROM orders
		WHERE profile_id = $1 AND amount = $2 AND currency = $3 AND status = $4 AND payment_id IS NULL
		ORDER BY created_at LIMIT 1`,
		profileID, amount, currency, constants.OrderPending)
	err := row.Scan(&o.ID, &o.ProfileID, &paymentID, &o.Amount, &o.Currency, &o.Status, &o.Source, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		logger.Log.Error("find pending order error - db row scan error", zap.String("profile", profileID), zap.Error(err))
		return nil, err
	}
	o.PaymentID = paymentID.String
	return &o, nil
}

func (s *PsqlStorage) LinkPaymentOrder(ctx context.Context, paymentID string, orderID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return s.inTx(ctx, "link payment order", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE payments SET order_id = $1 WHERE id = $2 AND order_id IS NULL", orderID, paymentID)
		if err != nil {
			return err
		}
		if err := expectRows(res, 1); err != nil {
			return fmt.Errorf("payment %s already linked: %w", paymentID, err)
		}
		res, err = tx.ExecContext(ctx,
			"UPDATE orders SET payment_id = $1, status = $2 WHERE id = $3 AND payment_id IS NULL",
			paymentID, constants.OrderPaid, orderID)
		if err != nil {
			return err
		}
		return expectRows(res, 1)
	})
}

func (s *PsqlStorage) CreateDeal(ctx context.Context, o *models.Order) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return s.inTx(ctx, "create deal", func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO orders (id, profile_id, payment_id, amount, currency, status, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`,
			o.ID, o.ProfileID, o.PaymentID, o.Amount, o.Currency, o.Status, o.Source).Scan(&o.CreatedAt)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"UPDATE payments SET order_id = $1 WHERE id = $2 AND order_id IS NULL", o.ID, o.PaymentID)
		if err != nil {
			return err
		}
		if err := expectRows(res, 1); err != nil {
			return fmt.Errorf("payment %s already linked: %w", o.PaymentID, err)
		}
		return nil
	})
}

func (s *PsqlStorage) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	var userID, email sql.NullString
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	row := s.connection.QueryRowContext(ctx, "SELECT id, user_id, email FROM profiles WHERE id = $1", id)
	err := row.Scan(&p.ID, &userID, &email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		logger.Log.Error("get profile error - db row scan error", zap.String("profile", id), zap.Error(err))
		return nil, err
	}
	p.UserID = userID.String
	p.Email = email.String
	return &p, nil
}

func (s *PsqlStorage) AddAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var details any
	if len(e.Details) > 0 {
		details = string(e.Details)
	}
	_, err := s.connection.ExecContext(ctx,
		`INSERT INTO audit_log (id, actor_id, action, entity, entity_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.ActorID, e.Action, e.Entity, e.EntityID, details, e.CreatedAt)
	if err != nil {
		logger.Log.Error("add audit entry error - db inserting failed", zap.String("action", e.Action), zap.Error(err))
		return err
	}
	return nil
}

// AddJobDelayed stores or re-parks a job. Re-parking releases the claim so the next tick retries it.
func (s *PsqlStorage) AddJobDelayed(ctx context.Context, j *models.Job) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	_, err := s.connection.ExecContext(ctx,
		`INSERT INTO jobs_delayed (id, kind, payload, attempts) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET attempts = EXCLUDED.attempts, claimed_until = NULL`,
		j.ID, j.Kind, string(j.Payload), j.Attempts)
	if err != nil {
		logger.Log.Error("add job delayed error - db inserting failed", zap.String("job", j.ID), zap.Error(err))
		return err
	}
	return nil
}

func (s *PsqlStorage) ClaimJobsDelayed(ctx context.Context, lim int) ([]models.Job, error) {
	jobs := make([]models.Job, 0, lim)
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	rows, err := s.connection.QueryContext(ctx, claimJobsQuery, lim, claimLease.Seconds())
	if err != nil {
		logger.Log.Error("claim jobs delayed error - query error", zap.Error(err))
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var j models.Job
		var payload []byte
		if err := rows.Scan(&j.ID, &j.Kind, &payload, &j.Attempts); err != nil {
			logger.Log.Error("claim jobs delayed error - scan error", zap.Error(err))
			return nil, err
		}
		j.Payload = json.RawMessage(payload)
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		logger.Log.Error("claim jobs delayed error - rows iteration error", zap.Error(err))
		return nil, err
	}
	return jobs, nil
}

func (s *PsqlStorage) DeleteJobDelayed(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	_, err := s.connection.ExecContext(ctx, "DELETE FROM jobs_delayed WHERE id = $1", id)
	if err != nil {
		logger.Log.Error("delete job delayed error - delete error", zap.String("job", id), zap.Error(err))
		return err
	}
	return nil
}

func expectRows(res sql.Result, want int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != want {
		return fmt.Errorf("%w: got %d, want %d", ErrRowsMismatch, n, want)
	}
	return nil
}
