package models

import "time"

const (
	// GenesisPrevHash and GenesisVoteHash are the fixed fields of block 0
	GenesisPrevHash = "GENESIS"
	GenesisVoteHash = "GENESIS"

	// TimestampLayout is the exact text form of every signed timestamp
	TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"
)

// FormatTimestamp renders t in UTC with microsecond precision
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}

type LedgerBlock struct {
	ElectionID string `json:"election_id" gorm:"primaryKey;size:64"`
	Index      uint64 `json:"index" gorm:"primaryKey;autoIncrement:false;column:ledger_index"`
	Timestamp  string `json:"timestamp" gorm:"size:40"`
	VoteHash   string `json:"vote_hash" gorm:"size:64"`
	PrevHash   string `json:"previous_hash" gorm:"size:64"`
	Hash       string `json:"hash" gorm:"size:64"`
	Signature  string `json:"signature"`
}

func (LedgerBlock) TableName() string {
	return "ledger_blocks"
}

// BlockHeader is the signed and hashed part of a block. Field names are the
// canonical JSON keys.
type BlockHeader struct {
	Index        uint64 `json:"index"`
	Timestamp    string `json:"timestamp"`
	VoteHash     string `json:"vote_hash"`
	PreviousHash string `json:"previous_hash"`
}

func (b *LedgerBlock) Header() BlockHeader {
	return BlockHeader{
		Index:        b.Index,
		Timestamp:    b.Timestamp,
		VoteHash:     b.VoteHash,
		PreviousHash: b.PrevHash,
	}
}
