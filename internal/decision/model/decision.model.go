package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultVotingWindow is how long a decision stays open when no closed_at is given.
const DefaultVotingWindow = 7 * 24 * time.Hour

// MaxTitleLength bounds Decision.Title.
const MaxTitleLength = 300

var (
	ErrDecisionNotFound = errors.New("decision not found")
	ErrForbidden        = errors.New("unauthorized: only the owner can edit this decision")
	ErrInvalidTitle     = fmt.Errorf("title is required and must be at most %d characters", MaxTitleLength)
	ErrInvalidVoteValue = errors.New("vote value must be one of -1, 0, 1")
	ErrDecisionClosed   = errors.New("decision is closed for voting")
	ErrClosedAtUnset    = errors.New("closed_at is not set")
)

type Decision struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	OwnerID     string     `json:"owner_id"`
	CreatedAt   time.Time  `json:"created_at"`
	ModifiedAt  time.Time  `json:"modified_at"`
	ClosedAt    *time.Time `json:"closed_at"`
}

// IsClosed reports whether the decision's voting window has elapsed at now.
func (d Decision) IsClosed(now time.Time) (bool, error) {
	return IsClosed(d.ClosedAt, now)
}

// AbsoluteURL is the public path of the decision detail page.
func (d Decision) AbsoluteURL() string {
	return "/decisions/" + d.ID
}

// DefaultClosedAt returns the closing time of a decision created at createdAt.
// A non-positive window means DefaultVotingWindow.
func DefaultClosedAt(createdAt time.Time, window time.Duration) time.Time {
	if window <= 0 {
		window = DefaultVotingWindow
	}
	return createdAt.Add(window)
}

// IsClosed is true when closedAt is at or before now. A nil closedAt is a caller error.
func IsClosed(closedAt *time.Time, now time.Time) (bool, error) {
	if closedAt == nil {
		return false, ErrClosedAtUnset
	}
	return !closedAt.After(now), nil
}

// DecisionView is a decision together with its derived values at read time.
type DecisionView struct {
	Decision
	Balance int  `json:"balance"`
	Closed  bool `json:"is_closed"`
}

type CreateDecisionRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	ClosedAt    *time.Time `json:"closed_at"`
}

type UpdateDecisionRequest struct {
	Title       *string      `json:"title"`
	Description *string      `json:"description"`
	ClosedAt    OptionalTime `json:"closed_at"`
}

// OptionalTime tells apart an absent JSON field (Set == false) from an explicit null (Set, nil Value).
type OptionalTime struct {
	Set   bool
	Value *time.Time
}

func (o *OptionalTime) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	o.Value = &t
	return nil
}

type CreateDecisionResponse struct {
	DecisionID string     `json:"decision_id"`
	ClosedAt   *time.Time `json:"closed_at"`
}
