package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sruthiidv/BallotGuard-sub000/audit"
	"github.com/sruthiidv/BallotGuard-sub000/blockchain/ledger"
	"github.com/sruthiidv/BallotGuard-sub000/models"
	"github.com/sruthiidv/BallotGuard-sub000/storage"
)

const saltBytes = 16

type CandidateInput struct {
	CandidateID string `json:"candidate_id,omitempty"`
	Name        string `json:"name"`
	Party       string `json:"party,omitempty"`
	Symbol      string `json:"symbol,omitempty"`
}

type CreateElectionRequest struct {
	ElectionID string           `json:"election_id,omitempty"`
	Name       string           `json:"name"`
	Start      string           `json:"start,omitempty"`
	End        string           `json:"end,omitempty"`
	Candidates []CandidateInput `json:"candidates"`
}

func (r *CreateElectionRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return models.Validation("election name is required")
	}
	if len(r.Candidates) == 0 {
		return models.Validation("an election needs at least one candidate")
	}
	seen := make(map[string]bool, len(r.Candidates))
	for _, c := range r.Candidates {
		if strings.TrimSpace(c.Name) == "" {
			return models.Validation("candidate name is required")
		}
		if c.CandidateID == "" {
			continue
		}
		if seen[c.CandidateID] {
			return models.Validation(fmt.Sprintf("duplicate candidate id %q", c.CandidateID))
		}
		seen[c.CandidateID] = true
	}
	return nil
}

func newSalt() (string, error) {
	buf := make([]byte, saltBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate election salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// CreateElection stores a draft election with its candidates, a fresh salt
// and the genesis block of its ledger
func (vs *VotingService) CreateElection(ctx context.Context, req *CreateElectionRequest) (*models.Election, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	ctx, cancel := vs.withTimeout(ctx)
	defer cancel()

	salt, err := newSalt()
	if err != nil {
		return nil, coreError(err)
	}
	election := &models.Election{
		ID:        req.ElectionID,
		Name:      req.Name,
		Status:    models.ElectionDraft,
		StartDate: req.Start,
		EndDate:   req.End,
		Salt:      salt,
	}
	if election.ID == "" {
		election.ID = uuid.NewString()
	}
	for _, c := range req.Candidates {
		id := c.CandidateID
		if id == "" {
			id = uuid.NewString()
		}
		election.Candidates = append(election.Candidates, models.Candidate{
			CandidateID: id,
			Name:        c.Name,
			Party:       c.Party,
			Symbol:      c.Symbol,
		})
	}

	err = vs.transact(ctx, func(tx *storage.Tx, events *audit.Batch) error {
		if err := tx.CreateElection(election); err != nil {
			return err
		}
		if _, err := vs.ledger.Genesis(tx, election.ID); err != nil {
			return coreError(err)
		}
		return events.Log(ctx, tx, audit.Entry{
			Kind:       models.AuditElectionCreated,
			ElectionID: election.ID,
			Detail:     fmt.Sprintf("%q with %d candidates", election.Name, len(election.Candidates)),
			Success:    true,
		})
	})
	if err != nil {
		return nil, coreError(err)
	}
	vs.logger.Info(
		"election created",
		"component", "intake",
		"election_id", election.ID,
		"candidates", len(election.Candidates),
	)
	return election, nil
}

func (vs *VotingService) GetElection(ctx context.Context, id string) (*models.Election, error) {
	e, err := vs.store.GetElection(ctx, id)
	if err != nil {
		return nil, coreError(err)
	}
	return e, nil
}

func (vs *VotingService) ListElections(ctx context.Context, includeClosed bool) ([]models.Election, error) {
	elections, err := vs.store.ListElections(ctx, includeClosed)
	if err != nil {
		return nil, coreError(err)
	}
	return elections, nil
}

type TransitionResponse struct {
	ElectionID string                `json:"election_id"`
	Status     models.ElectionStatus `json:"status"`
}

// TransitionElection applies an admin action through the election state chart
func (vs *VotingService) TransitionElection(ctx context.Context, electionID, action string) (*TransitionResponse, error) {
	a, err := models.ParseElectionAction(action)
	if err != nil {
		return nil, err
	}
	ctx, cancel := vs.withTimeout(ctx)
	defer cancel()

	var resp *TransitionResponse
	err = vs.transact(ctx, func(tx *storage.Tx, events *audit.Batch) error {
		e, prev, err := tx.TransitionElection(electionID, a)
		if err != nil {
			return err
		}
		resp = &TransitionResponse{ElectionID: e.ID, Status: e.Status}
		return events.Log(ctx, tx, audit.Entry{
			Kind:       models.AuditElectionTransition,
			ElectionID: e.ID,
			Detail:     fmt.Sprintf("%s: %s -> %s", a, prev, e.Status),
			Success:    true,
		})
	})
	if err != nil {
		return nil, coreError(err)
	}
	vs.logger.Info(
		"election transitioned",
		"component", "intake",
		"election_id", electionID,
		"action", a,
		"status", resp.Status,
	)
	return resp, nil
}

type EnrollVoterRequest struct {
	VoterID      string    `json:"voter_id,omitempty"`
	Name         string    `json:"name,omitempty"`
	FaceEncoding []float64 `json:"face_encoding"`
}

type VoterStatusResponse struct {
	VoterID string             `json:"voter_id"`
	Status  models.VoterStatus `json:"status"`
}

// EnrollVoter seals the face template and stores a pending voter
func (vs *VotingService) EnrollVoter(ctx context.Context, req *EnrollVoterRequest) (*VoterStatusResponse, error) {
	if err := validateEncoding(req.FaceEncoding); err != nil {
		return nil, err
	}
	ctx, cancel := vs.withTimeout(ctx)
	defer cancel()

	sealed, err := vs.keys.SealTemplate(req.FaceEncoding)
	if err != nil {
		return nil, coreError(err)
	}
	voter := &models.Voter{
		ID:       req.VoterID,
		Name:     req.Name,
		Template: sealed,
	}
	if voter.ID == "" {
		voter.ID = uuid.NewString()
	}
	err = vs.transact(ctx, func(tx *storage.Tx, events *audit.Batch) error {
		if err := tx.EnrollVoter(voter); err != nil {
			if errors.Is(err, models.ErrStateConflict) {
				return models.Validation(fmt.Sprintf("voter %q already enrolled", voter.ID))
			}
			return err
		}
		return events.Log(ctx, tx, audit.Entry{
			Kind:    models.AuditVoterEnrolled,
			Detail:  "voter " + voter.ID,
			Success: true,
		})
	})
	if err != nil {
		return nil, coreError(err)
	}
	return &VoterStatusResponse{VoterID: voter.ID, Status: models.VoterPending}, nil
}

// ApproveVoter makes the voter eligible in one election. The response
// carries the global status, which stays blocked for a blocked voter.
func (vs *VotingService) ApproveVoter(ctx context.Context, voterID, electionID string) (*VoterStatusResponse, error) {
	if voterID == "" || electionID == "" {
		return nil, models.Validation("voter_id and election_id are required")
	}
	ctx, cancel := vs.withTimeout(ctx)
	defer cancel()

	var status models.VoterStatus
	err := vs.transact(ctx, func(tx *storage.Tx, events *audit.Batch) error {
		if err := tx.ApproveVoterForElection(voterID, electionID); err != nil {
			return err
		}
		voter, err := tx.GetVoter(voterID)
		if err != nil {
			return err
		}
		status = voter.Status
		return events.Log(ctx, tx, audit.Entry{
			Kind:       models.AuditVoterApproved,
			ElectionID: electionID,
			Detail:     fmt.Sprintf("voter %s, global status %s", voterID, status),
			Success:    true,
		})
	})
	if err != nil {
		return nil, coreError(err)
	}
	return &VoterStatusResponse{VoterID: voterID, Status: status}, nil
}

// BlockVoter blocks the voter everywhere. Open tokens fail at cast time
// because the per-election status is no longer active.
func (vs *VotingService) BlockVoter(ctx context.Context, voterID string) (*VoterStatusResponse, error) {
	if voterID == "" {
		return nil, models.Validation("voter_id is required")
	}
	ctx, cancel := vs.withTimeout(ctx)
	defer cancel()

	err := vs.transact(ctx, func(tx *storage.Tx, events *audit.Batch) error {
		electionIDs, err := tx.BlockVoter(voterID)
		if err != nil {
			return err
		}
		if len(electionIDs) == 0 {
			return events.Log(ctx, tx, audit.Entry{
				Kind:    models.AuditVoterBlocked,
				Detail:  "voter " + voterID,
				Success: true,
			})
		}
		for _, id := range electionIDs {
			err := events.Log(ctx, tx, audit.Entry{
				Kind:       models.AuditVoterBlocked,
				ElectionID: id,
				Detail:     "voter " + voterID,
				Success:    true,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, coreError(err)
	}
	return &VoterStatusResponse{VoterID: voterID, Status: models.VoterBlocked}, nil
}

type LedgerEntry struct {
	Index        uint64 `json:"index"`
	Timestamp    string `json:"timestamp"`
	VoteHash     string `json:"vote_hash"`
	PreviousHash string `json:"previous_hash"`
	Hash         string `json:"hash"`
	Signature    string `json:"signature"`
	Ciphertext   string `json:"ciphertext,omitempty"`
}

// LedgerExport is everything an auditor needs to recompute the chain. It
// carries no voter or candidate identifiers.
type LedgerExport struct {
	ElectionID string        `json:"election_id"`
	Salt       string        `json:"salt"`
	Blocks     []LedgerEntry `json:"blocks"`
}

func (vs *VotingService) GetLedger(ctx context.Context, electionID string) (*LedgerExport, error) {
	election, blocks, ciphertexts, err := vs.loadLedger(ctx, electionID)
	if err != nil {
		return nil, err
	}
	out := &LedgerExport{
		ElectionID: election.ID,
		Salt:       election.Salt,
		Blocks:     make([]LedgerEntry, 0, len(blocks)),
	}
	for _, b := range blocks {
		out.Blocks = append(out.Blocks, LedgerEntry{
			Index:        b.Index,
			Timestamp:    b.Timestamp,
			VoteHash:     b.VoteHash,
			PreviousHash: b.PrevHash,
			Hash:         b.Hash,
			Signature:    b.Signature,
			Ciphertext:   ciphertexts[b.Index],
		})
	}
	return out, nil
}

// VerifyExport checks an exported ledger against the receipt signing key
// without access to the store
func VerifyExport(export *LedgerExport, pub *rsa.PublicKey) *ledger.Report {
	blocks := make([]models.LedgerBlock, 0, len(export.Blocks))
	ciphertexts := make(map[uint64]string, len(export.Blocks))
	for _, b := range export.Blocks {
		blocks = append(blocks, models.LedgerBlock{
			ElectionID: export.ElectionID,
			Index:      b.Index,
			Timestamp:  b.Timestamp,
			VoteHash:   b.VoteHash,
			PrevHash:   b.PreviousHash,
			Hash:       b.Hash,
			Signature:  b.Signature,
		})
		if b.Ciphertext != "" {
			ciphertexts[b.Index] = b.Ciphertext
		}
	}
	return ledger.Verify(export.ElectionID, blocks, ciphertexts, export.Salt, pub)
}

func (vs *VotingService) loadLedger(ctx context.Context, electionID string) (*models.Election, []models.LedgerBlock, map[uint64]string, error) {
	election, err := vs.store.GetElection(ctx, electionID)
	if err != nil {
		return nil, nil, nil, coreError(err)
	}
	blocks, err := vs.store.ListBlocks(ctx, electionID)
	if err != nil {
		return nil, nil, nil, coreError(err)
	}
	votes, err := vs.store.ListVotes(ctx, electionID)
	if err != nil {
		return nil, nil, nil, coreError(err)
	}
	ciphertexts := make(map[uint64]string, len(votes))
	for _, v := range votes {
		ciphertexts[v.LedgerIndex] = v.Ciphertext
	}
	return election, blocks, ciphertexts, nil
}

// VerifyLedger recomputes the election's chain and reports the first block
// that fails any check
func (vs *VotingService) VerifyLedger(ctx context.Context, electionID string) (*ledger.Report, error) {
	ctx, cancel := vs.withTimeout(ctx)
	defer cancel()

	report, err := vs.verifyLedger(ctx, electionID)
	if err != nil {
		return nil, err
	}
	detail := fmt.Sprintf("%s, %d blocks", report.Status, report.TotalBlocks)
	if report.FirstBadIndex != nil {
		detail += fmt.Sprintf(", first bad index %d", *report.FirstBadIndex)
	}
	if err := vs.audit.Log(ctx, vs.store, audit.Entry{
		Kind:       models.AuditLedgerVerify,
		ElectionID: electionID,
		Detail:     detail,
		Success:    report.Valid(),
	}); err != nil {
		return nil, coreError(err)
	}
	return report, nil
}

func (vs *VotingService) verifyLedger(ctx context.Context, electionID string) (*ledger.Report, error) {
	election, blocks, ciphertexts, err := vs.loadLedger(ctx, electionID)
	if err != nil {
		return nil, err
	}
	report := ledger.Verify(election.ID, blocks, ciphertexts, election.Salt, vs.keys.PublicKey())
	vs.metrics.RecordLedgerVerify(report.Status)
	if !report.Valid() {
		vs.logger.Warn(
			"ledger verification failed",
			"component", "ledger",
			"election_id", electionID,
			"first_bad_index", *report.FirstBadIndex,
		)
	}
	return report, nil
}

type VerifyReceiptResponse struct {
	SignatureValid bool   `json:"signature_valid"`
	OnLedger       bool   `json:"on_ledger"`
	LedgerStatus   string `json:"ledger_status,omitempty"`
}

// VerifyReceipt checks a voter's receipt signature and that the block it
// names still carries the same hash
func (vs *VotingService) VerifyReceipt(ctx context.Context, receipt *models.Receipt) (*VerifyReceiptResponse, error) {
	if receipt == nil || receipt.ElectionID == "" {
		return nil, models.Validation("receipt with election_id is required")
	}
	ctx, cancel := vs.withTimeout(ctx)
	defer cancel()

	resp := &VerifyReceiptResponse{
		SignatureValid: vs.keys.VerifyCanonical(receipt.ReceiptPayload, receipt.Sig),
	}
	block, err := vs.store.GetBlock(ctx, receipt.ElectionID, receipt.LedgerIndex)
	switch {
	case err == nil:
		resp.OnLedger = receipt.LedgerIndex > 0 && block.Hash == receipt.BlockHash
	case errors.Is(err, models.ErrNotFound):
	default:
		return nil, coreError(err)
	}
	report, err := vs.verifyLedger(ctx, receipt.ElectionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return resp, nil
		}
		return nil, err
	}
	resp.LedgerStatus = report.Status
	return resp, nil
}

const maxAuditPage = 1000

// ListAuditEvents reads the audit log in append order
func (vs *VotingService) ListAuditEvents(ctx context.Context, electionID string, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 || limit > maxAuditPage {
		limit = maxAuditPage
	}
	events, err := vs.store.ListAuditEvents(ctx, electionID, limit)
	if err != nil {
		return nil, coreError(err)
	}
	return events, nil
}
