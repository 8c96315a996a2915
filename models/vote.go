package models

import "time"

type EncryptedVote struct {
	VoteID      string `json:"vote_id" gorm:"primaryKey;size:64"`
	ElectionID  string `json:"election_id" gorm:"size:64;uniqueIndex:idx_vote_election_voter;index:idx_vote_election_candidate"`
	VoterID     string `json:"-" gorm:"size:64;uniqueIndex:idx_vote_election_voter"`
	CandidateID string `json:"candidate_id" gorm:"size:64;index:idx_vote_election_candidate"`
	// Paillier ciphertext as a decimal integer string
	Ciphertext  string    `json:"ciphertext"`
	ClientHash  string    `json:"client_hash,omitempty"`
	OvtUUID     string    `json:"-" gorm:"size:64"`
	LedgerIndex uint64    `json:"ledger_index"`
	BlockHash   string    `json:"block_hash" gorm:"size:64"`
	ReceiptSig  string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

func (EncryptedVote) TableName() string {
	return "encrypted_votes"
}

// ReceiptPayload is the signed part of a voter receipt
type ReceiptPayload struct {
	VoteID      string `json:"vote_id"`
	ElectionID  string `json:"election_id"`
	LedgerIndex uint64 `json:"ledger_index"`
	BlockHash   string `json:"block_hash"`
}

type Receipt struct {
	ReceiptPayload
	Sig string `json:"sig"`
}

func (v *EncryptedVote) ReceiptPayload() ReceiptPayload {
	return ReceiptPayload{
		VoteID:      v.VoteID,
		ElectionID:  v.ElectionID,
		LedgerIndex: v.LedgerIndex,
		BlockHash:   v.BlockHash,
	}
}
