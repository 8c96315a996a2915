package models

import "time"

type OVTStatus string

const (
	OVTIssued  OVTStatus = "issued"
	OVTSpent   OVTStatus = "spent"
	OVTExpired OVTStatus = "expired"
	OVTRevoked OVTStatus = "revoked"
)

// CanTransition encodes the token lifecycle: issued moves to exactly one
// terminal status and never back
func (s OVTStatus) CanTransition(to OVTStatus) bool {
	if s != OVTIssued {
		return false
	}
	switch to {
	case OVTSpent, OVTExpired, OVTRevoked:
		return true
	}
	return false
}

type OVT struct {
	UUID       string    `json:"ovt_uuid" gorm:"primaryKey;size:64;column:ovt_uuid"`
	ElectionID string    `json:"election_id" gorm:"size:64;index:idx_ovt_voter_election"`
	VoterID    string    `json:"voter_id" gorm:"size:64;index:idx_ovt_voter_election"`
	Status     OVTStatus `json:"status" gorm:"size:16"`
	NotBefore  time.Time `json:"not_before"`
	ExpiresAt  time.Time `json:"expires_at"`
	IssuedAt   time.Time `json:"issued_at"`
}

func (OVT) TableName() string {
	return "ovts"
}

// Expired treats the expiry instant itself as expired
func (o *OVT) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// TokenRecord is the signed view of an OVT handed to the kiosk
type TokenRecord struct {
	OvtUUID    string `json:"ovt_uuid"`
	ElectionID string `json:"election_id"`
	VoterID    string `json:"voter_id"`
	NotBefore  string `json:"not_before"`
	ExpiresAt  string `json:"expires_at"`
}

func (o *OVT) Record() TokenRecord {
	return TokenRecord{
		OvtUUID:    o.UUID,
		ElectionID: o.ElectionID,
		VoterID:    o.VoterID,
		NotBefore:  FormatTimestamp(o.NotBefore),
		ExpiresAt:  FormatTimestamp(o.ExpiresAt),
	}
}
