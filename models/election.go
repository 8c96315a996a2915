package models

import (
	"fmt"
	"time"
)

type ElectionStatus string

const (
	ElectionDraft    ElectionStatus = "draft"
	ElectionOpen     ElectionStatus = "open"
	ElectionPaused   ElectionStatus = "paused"
	ElectionClosed   ElectionStatus = "closed"
	ElectionArchived ElectionStatus = "archived"
)

type ElectionAction string

const (
	ActionOpen    ElectionAction = "open"
	ActionPause   ElectionAction = "pause"
	ActionResume  ElectionAction = "resume"
	ActionClose   ElectionAction = "close"
	ActionArchive ElectionAction = "archive"
	ActionReset   ElectionAction = "reset"
)

// ParseElectionAction accepts only the actions of the election state chart
func ParseElectionAction(s string) (ElectionAction, error) {
	switch a := ElectionAction(s); a {
	case ActionOpen, ActionPause, ActionResume, ActionClose, ActionArchive, ActionReset:
		return a, nil
	}
	return "", NewError(KindValidation, CodeBadAction, fmt.Sprintf("unknown election action %q", s))
}

// Transition is the election state chart. It is total: every (status, action)
// pair yields either the next status or BAD_ACTION.
func (s ElectionStatus) Transition(a ElectionAction) (ElectionStatus, error) {
	switch a {
	case ActionOpen:
		if s == ElectionDraft {
			return ElectionOpen, nil
		}
	case ActionPause:
		if s == ElectionOpen {
			return ElectionPaused, nil
		}
	case ActionResume:
		if s == ElectionPaused {
			return ElectionOpen, nil
		}
	case ActionClose:
		if s == ElectionOpen {
			return ElectionClosed, nil
		}
	case ActionArchive:
		if s == ElectionClosed {
			return ElectionArchived, nil
		}
	case ActionReset:
		if s != ElectionArchived {
			return ElectionDraft, nil
		}
	}
	return s, &Error{
		Kind:    ErrBadAction.Kind,
		Code:    ErrBadAction.Code,
		Message: fmt.Sprintf("cannot %s an election that is %s", a, s),
	}
}

// Tallyable reports whether results may be computed in this status
func (s ElectionStatus) Tallyable() bool {
	return s == ElectionClosed || s == ElectionArchived
}

type Election struct {
	ID             string         `json:"election_id" gorm:"primaryKey;size:64;column:election_id"`
	Name           string         `json:"name"`
	Status         ElectionStatus `json:"status" gorm:"size:16;index"`
	StartDate      string         `json:"start,omitempty"`
	EndDate        string         `json:"end,omitempty"`
	Salt           string         `json:"salt" gorm:"size:64"`
	EligibleVoters int            `json:"eligible_voters"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	// Loaded separately; candidates are rows of their own table
	Candidates []Candidate `json:"candidates,omitempty" gorm:"-"`
}

func (Election) TableName() string {
	return "elections"
}

type Candidate struct {
	ElectionID  string `json:"-" gorm:"primaryKey;size:64"`
	CandidateID string `json:"candidate_id" gorm:"primaryKey;size:64"`
	Position    int    `json:"position"`
	Name        string `json:"name"`
	Party       string `json:"party,omitempty"`
	Symbol      string `json:"symbol,omitempty"`
}

func (Candidate) TableName() string {
	return "candidates"
}

// HasCandidate reports whether id names one of the election's candidates
func (e *Election) HasCandidate(id string) bool {
	for _, c := range e.Candidates {
		if c.CandidateID == id {
			return true
		}
	}
	return false
}
