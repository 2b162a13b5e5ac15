package approvals

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/coinpilot/coinpilot/internal/domain"
)

// ErrNotFound is returned when an approval request does not exist
var ErrNotFound = errors.New("approval request not found")

// ErrAlreadyDecided is returned when deciding a request that has left pending
var ErrAlreadyDecided = errors.New("approval request already decided")

// Repository persists approval requests on the signals database
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new approvals repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "approvals").Logger(),
	}
}

const requestColumns = `id, recommendation_id, symbol, action, quantity, stop_loss,
	take_profit, status, created_at, expires_at, decided_at, executed_at`

// Create stores a new pending approval request
func (r *Repository) Create(req *Request) error {
	req.ID = uuid.New().String()
	req.Status = domain.ApprovalPending
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}

	_, err := r.db.Exec(`
		INSERT INTO approval_requests (id, recommendation_id, symbol, action, quantity,
		                               stop_loss, take_profit, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.RecommendationID, req.Symbol, string(req.Action),
		req.Quantity.String(), decimalPtr(req.StopLoss), decimalPtr(req.TakeProfit),
		string(req.Status), req.CreatedAt.Unix(), req.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert approval request: %w", err)
	}
	return nil
}

// GetByID returns one approval request
func (r *Repository) GetByID(id string) (*Request, error) {
	row := r.db.QueryRow(`SELECT `+requestColumns+` FROM approval_requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return req, nil
}

// GetByStatus returns all requests in the given status, oldest first
func (r *Repository) GetByStatus(status domain.ApprovalStatus) ([]Request, error) {
	rows, err := r.db.Query(`
		SELECT `+requestColumns+`
		FROM approval_requests
		WHERE status = ?
		ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query approval requests: %w", err)
	}
	defer rows.Close()

	var requests []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// Decide records a human approve/reject decision on a pending request
func (r *Repository) Decide(id string, status domain.ApprovalStatus) error {
	if status != domain.ApprovalApproved && status != domain.ApprovalRejected {
		return fmt.Errorf("invalid approval decision: %s", status)
	}
	res, err := r.db.Exec(`
		UPDATE approval_requests
		SET status = ?, decided_at = ?
		WHERE id = ? AND status = ?`,
		string(status), time.Now().Unix(), id, string(domain.ApprovalPending))
	if err != nil {
		return fmt.Errorf("failed to decide approval request %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check decision for %s: %w", id, err)
	}
	if affected == 0 {
		if _, err := r.GetByID(id); err != nil {
			return err
		}
		return ErrAlreadyDecided
	}
	return nil
}

// MarkExecuted transitions an approved request to executed
func (r *Repository) MarkExecuted(id string) error {
	_, err := r.db.Exec(`
		UPDATE approval_requests
		SET status = ?, executed_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.ApprovalExecuted), time.Now().Unix(), id,
		string(domain.ApprovalApproved))
	if err != nil {
		return fmt.Errorf("failed to mark approval %s executed: %w", id, err)
	}
	return nil
}

// MarkFailed closes an approved request whose execution failed so it is
// never retried.
func (r *Repository) MarkFailed(id string) error {
	_, err := r.db.Exec(`
		UPDATE approval_requests
		SET status = ?, decided_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.ApprovalRejected), time.Now().Unix(), id,
		string(domain.ApprovalApproved))
	if err != nil {
		return fmt.Errorf("failed to mark approval %s failed: %w", id, err)
	}
	return nil
}

// ExpireStale marks pending requests past their deadline as expired and
// returns the affected requests so callers can reconcile recommendations.
func (r *Repository) ExpireStale(now time.Time) ([]Request, error) {
	rows, err := r.db.Query(`
		SELECT `+requestColumns+`
		FROM approval_requests
		WHERE status = ? AND expires_at <= ?`,
		string(domain.ApprovalPending), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query stale approvals: %w", err)
	}
	var stale []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		stale = append(stale, *req)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range stale {
		_, err := r.db.Exec(`
			UPDATE approval_requests SET status = ?, decided_at = ?
			WHERE id = ? AND status = ?`,
			string(domain.ApprovalExpired), now.Unix(), stale[i].ID,
			string(domain.ApprovalPending))
		if err != nil {
			return nil, fmt.Errorf("failed to expire approval %s: %w", stale[i].ID, err)
		}
		stale[i].Status = domain.ApprovalExpired
	}
	return stale, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(s scanner) (*Request, error) {
	var (
		req                 Request
		action, status, qty string
		stop, takeProfit    sql.NullString
		createdAt, expires  int64
		decidedAt, execAt   sql.NullInt64
	)
	err := s.Scan(&req.ID, &req.RecommendationID, &req.Symbol, &action, &qty,
		&stop, &takeProfit, &status, &createdAt, &expires, &decidedAt, &execAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan approval request: %w", err)
	}

	req.Action = domain.Action(action)
	req.Status = domain.ApprovalStatus(status)
	if req.Quantity, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("invalid approval quantity: %w", err)
	}
	if stop.Valid {
		d, err := decimal.NewFromString(stop.String)
		if err != nil {
			return nil, fmt.Errorf("invalid approval stop loss: %w", err)
		}
		req.StopLoss = &d
	}
	if takeProfit.Valid {
		d, err := decimal.NewFromString(takeProfit.String)
		if err != nil {
			return nil, fmt.Errorf("invalid approval take profit: %w", err)
		}
		req.TakeProfit = &d
	}
	req.CreatedAt = time.Unix(createdAt, 0)
	req.ExpiresAt = time.Unix(expires, 0)
	if decidedAt.Valid {
		t := time.Unix(decidedAt.Int64, 0)
		req.DecidedAt = &t
	}
	if execAt.Valid {
		t := time.Unix(execAt.Int64, 0)
		req.ExecutedAt = &t
	}
	return &req, nil
}

func decimalPtr(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}
