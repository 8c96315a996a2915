// Package ledger builds and verifies the per-election chain of signed vote
// blocks. Block 0 is a fixed genesis; every later block commits exactly one
// ballot through its vote hash.
package ledger

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sruthiidv/BallotGuard-sub000/encryption"
	"github.com/sruthiidv/BallotGuard-sub000/models"
)

// BlockStore is the slice of a store transaction the ledger writes through
type BlockStore interface {
	LastBlock(electionID string) (*models.LedgerBlock, error)
	InsertBlock(b *models.LedgerBlock) error
}

// Signer signs the canonical JSON of a value with RSA-PSS
type Signer interface {
	SignCanonical(v any) (string, error)
}

var ErrNoGenesis = errors.New("ledger has no genesis block")

type Ledger struct {
	signer Signer
	logger *slog.Logger
	now    func() time.Time
}

func New(signer Signer, logger *slog.Logger, now func() time.Time) *Ledger {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		signer: signer,
		logger: logger.With("component", "ledger"),
		now:    now,
	}
}

// CalculateHash is hex(SHA-256(canonical_json(header)))
func CalculateHash(h models.BlockHeader) (string, error) {
	data, err := encryption.CanonicalJSON(h)
	if err != nil {
		return "", err
	}
	return encryption.SHA256Hex(data), nil
}

// Genesis writes block 0 for a new election
func (l *Ledger) Genesis(store BlockStore, electionID string) (*models.LedgerBlock, error) {
	head, err := store.LastBlock(electionID)
	if err != nil {
		return nil, err
	}
	if head != nil {
		return nil, fmt.Errorf("election %s already has a ledger", electionID)
	}
	block, err := l.seal(electionID, models.BlockHeader{
		Index:        0,
		Timestamp:    models.FormatTimestamp(l.now()),
		VoteHash:     models.GenesisVoteHash,
		PreviousHash: models.GenesisPrevHash,
	})
	if err != nil {
		return nil, err
	}
	if err := store.InsertBlock(block); err != nil {
		return nil, err
	}
	l.logger.Debug("genesis block created", "election_id", electionID, "hash", block.Hash)
	return block, nil
}

// Append commits one ciphertext as the next block of the election's chain.
// It must run inside the same transaction that stores the ballot.
func (l *Ledger) Append(store BlockStore, electionID, ciphertext, salt string) (*models.LedgerBlock, error) {
	head, err := store.LastBlock(electionID)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, ErrNoGenesis
	}
	block, err := l.seal(electionID, models.BlockHeader{
		Index:        head.Index + 1,
		Timestamp:    l.timestampAfter(head),
		VoteHash:     encryption.VoteHash(ciphertext, salt),
		PreviousHash: head.Hash,
	})
	if err != nil {
		return nil, err
	}
	if err := store.InsertBlock(block); err != nil {
		return nil, err
	}
	l.logger.Debug(
		"block appended",
		"election_id", electionID,
		"index", block.Index,
		"vote_hash", block.VoteHash,
	)
	return block, nil
}

// timestampAfter keeps block timestamps non-decreasing along the chain
func (l *Ledger) timestampAfter(head *models.LedgerBlock) string {
	now := l.now().UTC()
	if prev, err := models.ParseTimestamp(head.Timestamp); err == nil && prev.After(now) {
		now = prev
	}
	return models.FormatTimestamp(now)
}

func (l *Ledger) seal(electionID string, h models.BlockHeader) (*models.LedgerBlock, error) {
	hash, err := CalculateHash(h)
	if err != nil {
		return nil, err
	}
	sig, err := l.signer.SignCanonical(h)
	if err != nil {
		return nil, err
	}
	return &models.LedgerBlock{
		ElectionID: electionID,
		Index:      h.Index,
		Timestamp:  h.Timestamp,
		VoteHash:   h.VoteHash,
		PrevHash:   h.PreviousHash,
		Hash:       hash,
		Signature:  sig,
	}, nil
}

// Head returns the index and hash of the last block
func Head(store BlockStore, electionID string) (uint64, string, error) {
	head, err := store.LastBlock(electionID)
	if err != nil {
		return 0, "", err
	}
	if head == nil {
		return 0, "", ErrNoGenesis
	}
	return head.Index, head.Hash, nil
}

const (
	StatusValid    = "valid"
	StatusTampered = "tampered"
)

type BlockReport struct {
	Index          uint64 `json:"index"`
	Hash           string `json:"hash"`
	SignatureValid bool   `json:"signature_valid"`
	HasSignature   bool   `json:"has_signature"`
	HashValid      bool   `json:"hash_valid"`
	LinkValid      bool   `json:"link_valid"`
	VoteHashValid  bool   `json:"vote_hash_valid"`
	Problem        string `json:"problem,omitempty"`
}

func (b *BlockReport) ok() bool {
	return b.Problem == ""
}

type Report struct {
	ElectionID    string        `json:"election_id"`
	Status        string        `json:"status"`
	TotalBlocks   int           `json:"total_blocks"`
	Blocks        []BlockReport `json:"blocks"`
	FirstBadIndex *uint64       `json:"first_bad_index,omitempty"`
	HeadIndex     uint64        `json:"head_index"`
	HeadHash      string        `json:"head_hash"`
}

func (r *Report) Valid() bool {
	return r.Status == StatusValid
}

func (r *Report) markBad(index uint64) {
	r.Status = StatusTampered
	if r.FirstBadIndex == nil || index < *r.FirstBadIndex {
		i := index
		r.FirstBadIndex = &i
	}
}

// Verify recomputes the whole chain from stored fields. ciphertexts maps a
// ledger index to the ballot stored for it. The first block failing any check
// is reported as first_bad_index.
func Verify(electionID string, blocks []models.LedgerBlock, ciphertexts map[uint64]string, salt string, pub *rsa.PublicKey) *Report {
	r := &Report{
		ElectionID:  electionID,
		Status:      StatusValid,
		TotalBlocks: len(blocks),
		Blocks:      make([]BlockReport, 0, len(blocks)),
	}
	if len(blocks) == 0 {
		r.markBad(0)
		return r
	}
	for pos := range blocks {
		b := &blocks[pos]
		br := checkBlock(b, pos, blocks, ciphertexts, salt, pub)
		r.Blocks = append(r.Blocks, br)
		if !br.ok() {
			r.markBad(uint64(pos))
		}
	}
	// A ballot whose block is gone is a deletion from the chain
	last := uint64(len(blocks) - 1)
	for idx := range ciphertexts {
		if idx == 0 || idx > last {
			r.markBad(min(idx, last+1))
		}
	}
	head := blocks[len(blocks)-1]
	r.HeadIndex = head.Index
	r.HeadHash = head.Hash
	return r
}

func checkBlock(b *models.LedgerBlock, pos int, blocks []models.LedgerBlock, ciphertexts map[uint64]string, salt string, pub *rsa.PublicKey) BlockReport {
	br := BlockReport{
		Index:        b.Index,
		Hash:         b.Hash,
		HasSignature: b.Signature != "",
	}
	var problems []string
	if b.Index != uint64(pos) {
		problems = append(problems, fmt.Sprintf("index %d at position %d", b.Index, pos))
	}

	header := b.Header()
	if hash, err := CalculateHash(header); err == nil && hash == b.Hash {
		br.HashValid = true
	} else {
		problems = append(problems, "hash mismatch")
	}

	if br.HasSignature && encryption.VerifyCanonical(pub, header, b.Signature) {
		br.SignatureValid = true
	} else {
		problems = append(problems, "bad signature")
	}

	if pos == 0 {
		br.LinkValid = b.PrevHash == models.GenesisPrevHash
		br.VoteHashValid = b.VoteHash == models.GenesisVoteHash
	} else {
		br.LinkValid = b.PrevHash == blocks[pos-1].Hash
		ct, ok := ciphertexts[uint64(pos)]
		br.VoteHashValid = ok && b.VoteHash == encryption.VoteHash(ct, salt)
	}
	if !br.LinkValid {
		problems = append(problems, "broken link")
	}
	if !br.VoteHashValid {
		problems = append(problems, "vote hash mismatch")
	}
	if len(problems) > 0 {
		br.Problem = strings.Join(problems, "; ")
	}
	return br
}
