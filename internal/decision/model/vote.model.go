package model

import "time"

// VoteValue is a voter's opinion on a decision.
type VoteValue int

const (
	VoteRevoked   VoteValue = -1
	VoteIgnored   VoteValue = 0
	VoteSustained VoteValue = 1
)

func (v VoteValue) Valid() bool {
	switch v {
	case VoteRevoked, VoteIgnored, VoteSustained:
		return true
	}
	return false
}

func (v VoteValue) String() string {
	switch v {
	case VoteRevoked:
		return "Revoked"
	case VoteIgnored:
		return "Ignored"
	case VoteSustained:
		return "Sustained"
	}
	return "Unknown"
}

// ParseVoteValue converts a raw integer into a VoteValue, rejecting anything outside {-1, 0, 1}.
func ParseVoteValue(raw int) (VoteValue, error) {
	v := VoteValue(raw)
	if !v.Valid() {
		return 0, ErrInvalidVoteValue
	}
	return v, nil
}

type Vote struct {
	ID         string    `json:"id"`
	DecisionID string    `json:"decision_id"`
	VoterID    string    `json:"voter_id"`
	Value      VoteValue `json:"value"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Balance sums vote values. No votes means zero.
func Balance(values []VoteValue) int {
	total := 0
	for _, v := range values {
		total += int(v)
	}
	return total
}

// Values extracts the value of each vote.
func Values(votes []Vote) []VoteValue {
	values := make([]VoteValue, 0, len(votes))
	for _, v := range votes {
		values = append(values, v.Value)
	}
	return values
}

type CastVoteRequest struct {
	DecisionID string `json:"decision_id"`
	Value      *int   `json:"value"`
}

type VoteResponse struct {
	Vote
	Label string `json:"label"`
}

type CastVoteResponse struct {
	VoteResponse
	Balance int `json:"balance"`
}

type BalanceResponse struct {
	DecisionID string `json:"decision_id"`
	Balance    int    `json:"balance"`
}
