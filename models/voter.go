package models

import "time"

// FaceEncodingDim is the length of the face embedding produced by the kiosk
const FaceEncodingDim = 128

type VoterStatus string

const (
	VoterPending VoterStatus = "pending"
	VoterActive  VoterStatus = "active"
	VoterBlocked VoterStatus = "blocked"
)

type Voter struct {
	ID     string      `json:"voter_id" gorm:"primaryKey;size:64;column:voter_id"`
	Name   string      `json:"name,omitempty"`
	Status VoterStatus `json:"status" gorm:"size:16"`
	// AES-GCM sealed face template, nonce||tag||ciphertext
	Template  []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

func (Voter) TableName() string {
	return "voters"
}

type EligibilityStatus string

const (
	EligibilityActive  EligibilityStatus = "active"
	EligibilityBlocked EligibilityStatus = "blocked"
)

// VoterElectionStatus exists only for voters approved for an election
type VoterElectionStatus struct {
	ElectionID string            `json:"election_id" gorm:"primaryKey;size:64"`
	VoterID    string            `json:"voter_id" gorm:"primaryKey;size:64;index"`
	Status     EligibilityStatus `json:"status" gorm:"size:16"`
	Voted      bool              `json:"voted"`
	LastAuthAt *time.Time        `json:"last_auth_at,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func (VoterElectionStatus) TableName() string {
	return "voter_election_status"
}
