package service

import (
	"agora/internal/decision/metrics"
	"agora/internal/decision/model"
	"agora/pkg/logger"
	"agora/socket"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Store is the persistence the service needs. repository.DecisionRepository implements it.
type Store interface {
	CreateDecision(ctx context.Context, d model.Decision) (model.Decision, error)
	GetDecision(ctx context.Context, id string) (model.Decision, error)
	ListDecisions(ctx context.Context) ([]model.DecisionView, error)
	UpdateDecision(ctx context.Context, d model.Decision) (int64, error)
	CreateVote(ctx context.Context, v model.Vote) (model.Vote, int, error)
	ListVotes(ctx context.Context, decisionID string) ([]model.Vote, error)
	Balance(ctx context.Context, decisionID string) (int, error)
}

// CreationNotifier is told about each decision once it has been stored.
// It may block until the event is accepted or ctx is done.
type CreationNotifier interface {
	DecisionCreated(ctx context.Context, d model.Decision)
}

// Feed fans events out to live subscribers.
type Feed interface {
	Publish(msg socket.WSMessage)
}

type DecisionService struct {
	Repo         Store
	Notifier     CreationNotifier
	Feed         Feed
	Metrics      *metrics.Metrics
	VotingWindow time.Duration
	now          func() time.Time
}

func NewDecisionService(repo Store, notifier CreationNotifier, feed Feed, m *metrics.Metrics, votingWindow time.Duration) *DecisionService {
	return &DecisionService{
		Repo:         repo,
		Notifier:     notifier,
		Feed:         feed,
		Metrics:      m,
		VotingWindow: votingWindow,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CreateDecision stores a new decision owned by ownerID and then notifies the contact once.
// Without an explicit closed_at the decision closes DefaultClosedAt after creation.
func (s *DecisionService) CreateDecision(ctx context.Context, ownerID string, req model.CreateDecisionRequest) (model.Decision, error) {
	title, err := validateTitle(req.Title)
	if err != nil {
		return model.Decision{}, err
	}

	now := s.now()
	closedAt := req.ClosedAt
	if closedAt == nil {
		def := model.DefaultClosedAt(now, s.VotingWindow)
		closedAt = &def
	} else {
		utc := closedAt.UTC()
		closedAt = &utc
	}

	d, err := s.Repo.CreateDecision(ctx, model.Decision{
		Title:       title,
		Description: req.Description,
		OwnerID:     ownerID,
		CreatedAt:   now,
		ClosedAt:    closedAt,
	})
	if err != nil {
		return model.Decision{}, err
	}

	s.Metrics.IncDecisionCreated()
	if s.Notifier != nil {
		s.Notifier.DecisionCreated(ctx, d)
	}
	s.publish(socket.DecisionCreatedType, socket.AllDecisions, ownerID, model.DecisionView{Decision: d})
	return d, nil
}

func (s *DecisionService) GetDecision(ctx context.Context, id string) (model.DecisionView, error) {
	d, err := s.Repo.GetDecision(ctx, id)
	if err != nil {
		return model.DecisionView{}, err
	}
	return s.view(ctx, d)
}

func (s *DecisionService) ListDecisions(ctx context.Context) ([]model.DecisionView, error) {
	views, err := s.Repo.ListDecisions(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range views {
		if views[i].ClosedAt == nil {
			continue
		}
		if views[i].Closed, err = views[i].IsClosed(now); err != nil {
			return nil, err
		}
	}
	return views, nil
}

// UpdateDecision applies the owner's edits. This is the only path that changes closed_at.
func (s *DecisionService) UpdateDecision(ctx context.Context, id, userID string, req model.UpdateDecisionRequest) (model.DecisionView, error) {
	d, err := s.Repo.GetDecision(ctx, id)
	if err != nil {
		return model.DecisionView{}, err
	}
	if d.OwnerID != userID {
		return model.DecisionView{}, model.ErrForbidden
	}

	if req.Title != nil {
		title, err := validateTitle(*req.Title)
		if err != nil {
			return model.DecisionView{}, err
		}
		d.Title = title
	}
	if req.Description != nil {
		d.Description = *req.Description
	}
	if req.ClosedAt.Set {
		d.ClosedAt = nil
		if req.ClosedAt.Value != nil {
			utc := req.ClosedAt.Value.UTC()
			d.ClosedAt = &utc
		}
	}
	d.ModifiedAt = s.now()

	rows, err := s.Repo.UpdateDecision(ctx, d)
	if err != nil {
		return model.DecisionView{}, err
	}
	if rows == 0 {
		return model.DecisionView{}, fmt.Errorf("update decision %s: %w", id, model.ErrDecisionNotFound)
	}

	view, err := s.view(ctx, d)
	if err != nil {
		return model.DecisionView{}, err
	}
	s.publish(socket.DecisionUpdatedType, d.ID, userID, view)
	return view, nil
}

// CastVote records a vote and returns it with the decision's new balance.
// The store writes the vote and reads the balance atomically, so an error means nothing was recorded.
// Invalid values never reach the store. A decision without closed_at accepts votes indefinitely.
func (s *DecisionService) CastVote(ctx context.Context, decisionID, voterID string, value model.VoteValue) (model.Vote, int, error) {
	if !value.Valid() {
		s.Metrics.IncVoteRejected("invalid_value")
		return model.Vote{}, 0, model.ErrInvalidVoteValue
	}

	d, err := s.Repo.GetDecision(ctx, decisionID)
	if err != nil {
		return model.Vote{}, 0, err
	}
	if d.ClosedAt != nil {
		closed, err := d.IsClosed(s.now())
		if err != nil {
			return model.Vote{}, 0, err
		}
		if closed {
			s.Metrics.IncVoteRejected("closed")
			return model.Vote{}, 0, model.ErrDecisionClosed
		}
	}

	v, balance, err := s.Repo.CreateVote(ctx, model.Vote{
		DecisionID: decisionID,
		VoterID:    voterID,
		Value:      value,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return model.Vote{}, 0, err
	}
	s.Metrics.IncVoteCast(value.String())

	s.publish(socket.VoteCastType, decisionID, voterID, model.CastVoteResponse{
		VoteResponse: model.VoteResponse{Vote: v, Label: v.Value.String()},
		Balance:      balance,
	})
	return v, balance, nil
}

func (s *DecisionService) ListVotes(ctx context.Context, decisionID string) ([]model.Vote, error) {
	if _, err := s.Repo.GetDecision(ctx, decisionID); err != nil {
		return nil, err
	}
	return s.Repo.ListVotes(ctx, decisionID)
}

// Balance reads the decision's current balance from the store.
func (s *DecisionService) Balance(ctx context.Context, decisionID string) (int, error) {
	if _, err := s.Repo.GetDecision(ctx, decisionID); err != nil {
		return 0, err
	}
	return s.Repo.Balance(ctx, decisionID)
}

func (s *DecisionService) view(ctx context.Context, d model.Decision) (model.DecisionView, error) {
	balance, err := s.Repo.Balance(ctx, d.ID)
	if err != nil {
		return model.DecisionView{}, err
	}
	view := model.DecisionView{Decision: d, Balance: balance}
	if d.ClosedAt != nil {
		view.Closed, err = d.IsClosed(s.now())
		if err != nil {
			return model.DecisionView{}, err
		}
	}
	return view, nil
}

func (s *DecisionService) publish(msgType, decisionID, userID string, payload any) {
	if s.Feed == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling %s payload: %v", msgType, err)
		return
	}
	s.Feed.Publish(socket.WSMessage{Type: msgType, DecisionID: decisionID, UserID: userID, Payload: raw})
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > model.MaxTitleLength {
		return "", model.ErrInvalidTitle
	}
	return title, nil
}

// IsClientError reports whether err stems from bad input rather than a failing dependency.
func IsClientError(err error) bool {
	return errors.Is(err, model.ErrInvalidTitle) || errors.Is(err, model.ErrInvalidVoteValue)
}
