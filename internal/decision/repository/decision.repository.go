package repository

import (
	"agora/internal/decision/model"
	"agora/pkg/logger"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Postgres error codes the repository translates into domain errors.
const (
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

const (
	decisionColumns = `id, title, description, owner_id, created_at, modified_at, closed_at`
	balanceQuery    = `SELECT COALESCE(SUM(value), 0) FROM votes WHERE decision_id = $1`
)

type DecisionRepository struct {
	DB    *sql.DB
	newID func() string
}

func NewDecisionRepository(db *sql.DB) *DecisionRepository {
	return &DecisionRepository{DB: db, newID: uuid.NewString}
}

// CreateDecision assigns the decision an id and stores it. CreatedAt doubles as the initial ModifiedAt.
func (r *DecisionRepository) CreateDecision(ctx context.Context, d model.Decision) (model.Decision, error) {
	d.ID = r.newID()
	d.ModifiedAt = d.CreatedAt
	_, err := r.DB.ExecContext(ctx, `INSERT INTO decisions (id, title, description, owner_id, created_at, modified_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $5, $6)`,
		d.ID, d.Title, d.Description, d.OwnerID, d.CreatedAt, nullTime(d.ClosedAt))
	if err != nil {
		logger.Sugar.Errorf("Failed to create decision: %v", err)
		return model.Decision{}, err
	}
	return d, nil
}

func (r *DecisionRepository) GetDecision(ctx context.Context, id string) (model.Decision, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE id = $1`, id)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Decision{}, model.ErrDecisionNotFound
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get decision %s: %v", id, err)
		return model.Decision{}, err
	}
	return d, nil
}

// ListDecisions returns every decision with its balance, latest closing first, then oldest created first.
func (r *DecisionRepository) ListDecisions(ctx context.Context) ([]model.DecisionView, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT d.id, d.title, d.description, d.owner_id, d.created_at, d.modified_at, d.closed_at,
		COALESCE(SUM(v.value), 0)
		FROM decisions d LEFT JOIN votes v ON v.decision_id = d.id
		GROUP BY d.id
		ORDER BY d.closed_at DESC, d.created_at ASC`)
	if err != nil {
		logger.Sugar.Errorf("Failed to list decisions: %v", err)
		return nil, err
	}
	defer rows.Close()

	views := []model.DecisionView{}
	for rows.Next() {
		var view model.DecisionView
		var closedAt sql.NullTime
		d := &view.Decision
		if err := rows.Scan(&d.ID, &d.Title, &d.Description, &d.OwnerID, &d.CreatedAt, &d.ModifiedAt, &closedAt, &view.Balance); err != nil {
			logger.Sugar.Errorf("Failed to scan decision: %v", err)
			return nil, err
		}
		if closedAt.Valid {
			t := closedAt.Time
			d.ClosedAt = &t
		}
		views = append(views, view)
	}
	return views, rows.Err()
}

// UpdateDecision writes the editable fields of d. The write only applies when d.OwnerID still owns the row.
func (r *DecisionRepository) UpdateDecision(ctx context.Context, d model.Decision) (int64, error) {
	result, err := r.DB.ExecContext(ctx, `UPDATE decisions SET title = $1, description = $2, closed_at = $3, modified_at = $4
		WHERE id = $5 AND owner_id = $6`,
		d.Title, d.Description, nullTime(d.ClosedAt), d.ModifiedAt, d.ID, d.OwnerID)
	if err != nil {
		logger.Sugar.Errorf("Failed to update decision %s: %v", d.ID, err)
		return 0, err
	}
	return result.RowsAffected()
}

// CreateVote stores v and returns the decision's balance including it. Both run in one transaction,
// so a vote is never stored without its balance being read.
func (r *DecisionRepository) CreateVote(ctx context.Context, v model.Vote) (model.Vote, int, error) {
	v.ID = r.newID()
	v.ModifiedAt = v.CreatedAt

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		logger.Sugar.Errorf("Failed to begin vote transaction on decision %s: %v", v.DecisionID, err)
		return model.Vote{}, 0, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO votes (id, decision_id, voter_id, value, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, $5)`,
		v.ID, v.DecisionID, v.VoterID, int(v.Value), v.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code {
			case pgCheckViolation:
				return model.Vote{}, 0, fmt.Errorf("%w: %v", model.ErrInvalidVoteValue, pqErr.Message)
			case pgForeignKeyViolation:
				return model.Vote{}, 0, model.ErrDecisionNotFound
			}
		}
		logger.Sugar.Errorf("Failed to create vote on decision %s: %v", v.DecisionID, err)
		return model.Vote{}, 0, err
	}

	var balance int
	if err := tx.QueryRowContext(ctx, balanceQuery, v.DecisionID).Scan(&balance); err != nil {
		logger.Sugar.Errorf("Failed to compute balance for decision %s: %v", v.DecisionID, err)
		return model.Vote{}, 0, err
	}

	if err := tx.Commit(); err != nil {
		logger.Sugar.Errorf("Failed to commit vote on decision %s: %v", v.DecisionID, err)
		return model.Vote{}, 0, err
	}
	return v, balance, nil
}

func (r *DecisionRepository) ListVotes(ctx context.Context, decisionID string) ([]model.Vote, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, decision_id, voter_id, value, created_at, modified_at
		FROM votes WHERE decision_id = $1 ORDER BY created_at ASC`, decisionID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list votes for decision %s: %v", decisionID, err)
		return nil, err
	}
	defer rows.Close()

	votes := []model.Vote{}
	for rows.Next() {
		var v model.Vote
		var value int
		if err := rows.Scan(&v.ID, &v.DecisionID, &v.VoterID, &value, &v.CreatedAt, &v.ModifiedAt); err != nil {
			logger.Sugar.Errorf("Failed to scan vote: %v", err)
			return nil, err
		}
		v.Value = model.VoteValue(value)
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// Balance sums vote values in the store at call time.
func (r *DecisionRepository) Balance(ctx context.Context, decisionID string) (int, error) {
	var balance int
	err := r.DB.QueryRowContext(ctx, balanceQuery, decisionID).Scan(&balance)
	if err != nil {
		logger.Sugar.Errorf("Failed to compute balance for decision %s: %v", decisionID, err)
		return 0, err
	}
	return balance, nil
}

// GetUserEmail resolves a user identity to its email address.
func (r *DecisionRepository) GetUserEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := r.DB.QueryRowContext(ctx, "SELECT email FROM auth.users WHERE id = $1", userID).Scan(&email)
	if err != nil {
		logger.Sugar.Errorf("Failed to get email for user %s: %v", userID, err)
	}
	return email, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (model.Decision, error) {
	var d model.Decision
	var closedAt sql.NullTime
	if err := row.Scan(&d.ID, &d.Title, &d.Description, &d.OwnerID, &d.CreatedAt, &d.ModifiedAt, &closedAt); err != nil {
		return model.Decision{}, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		d.ClosedAt = &t
	}
	return d, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
