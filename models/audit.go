package models

import "time"

type AuditKind string

const (
	AuditVoterEnrolled      AuditKind = "VOTER_ENROLLED"
	AuditVoterApproved      AuditKind = "VOTER_APPROVED"
	AuditVoterBlocked       AuditKind = "VOTER_BLOCKED"
	AuditFaceAuth           AuditKind = "FACE_AUTH"
	AuditFaceAuthLockout    AuditKind = "FACE_AUTH_LOCKOUT"
	AuditOVTIssued          AuditKind = "OVT_ISSUED"
	AuditOVTSpent           AuditKind = "OVT_SPENT"
	AuditVoteCast           AuditKind = "VOTE_CAST"
	AuditElectionCreated    AuditKind = "ELECTION_CREATED"
	AuditElectionTransition AuditKind = "ELECTION_TRANSITION"
	AuditTallyComputed      AuditKind = "TALLY_COMPUTED"
	AuditLedgerVerify       AuditKind = "LEDGER_VERIFY"
)

// AuditEvent rows are inserted and never updated or deleted
type AuditEvent struct {
	ID         uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Kind       AuditKind `json:"event_type" gorm:"size:32;index"`
	Actor      string    `json:"actor" gorm:"size:128"`
	ElectionID *string   `json:"election_id,omitempty" gorm:"size:64;index"`
	Detail     string    `json:"detail"`
	Success    bool      `json:"success"`
	RemoteAddr string    `json:"remote_addr,omitempty" gorm:"size:64"`
	CreatedAt  time.Time `json:"timestamp"`
}

func (AuditEvent) TableName() string {
	return "audit_events"
}

// MigrateModels lists every table the store creates
var MigrateModels = []any{
	&Voter{},
	&Election{},
	&Candidate{},
	&VoterElectionStatus{},
	&OVT{},
	&EncryptedVote{},
	&LedgerBlock{},
	&AuditEvent{},
}
