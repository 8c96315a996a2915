package service

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/sruthiidv/BallotGuard-sub000/audit"
	"github.com/sruthiidv/BallotGuard-sub000/encryption"
	"github.com/sruthiidv/BallotGuard-sub000/models"
)

type CandidateResult struct {
	CandidateID string  `json:"candidate_id"`
	Name        string  `json:"name"`
	Party       string  `json:"party,omitempty"`
	Votes       int64   `json:"votes"`
	Percentage  float64 `json:"percentage"`
}

type LedgerHead struct {
	Index uint64 `json:"index"`
	Hash  string `json:"hash"`
}

// ResultsBundle is the signed outcome of an election. The signature covers
// the canonical JSON of the bundle with the signature field left out.
type ResultsBundle struct {
	ElectionID     string                `json:"election_id"`
	Name           string                `json:"name"`
	Status         models.ElectionStatus `json:"status"`
	Candidates     []CandidateResult     `json:"candidates"`
	TotalVotes     int64                 `json:"total_votes"`
	EligibleVoters int                   `json:"eligible_voters"`
	Turnout        float64               `json:"turnout"`
	Winners        []string              `json:"winners"`
	LedgerHead     LedgerHead            `json:"ledger_head"`
	ComputedAt     string                `json:"computed_at"`
	Signature      string                `json:"signature,omitempty"`
}

func (b ResultsBundle) unsigned() ResultsBundle {
	b.Signature = ""
	return b
}

// VerifyResults checks the server signature on a results bundle
func (vs *VotingService) VerifyResults(b *ResultsBundle) bool {
	return b != nil && vs.keys.VerifyCanonical(b.unsigned(), b.Signature)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func percent(part, whole int64) float64 {
	if whole <= 0 {
		return 0
	}
	return round2(float64(part) * 100 / float64(whole))
}

// tally is the per-candidate homomorphic accumulator
type tally struct {
	sum     *big.Int
	ballots int64
}

// GetResults verifies the ledger, sums each candidate's ciphertexts
// homomorphically and decrypts every sum exactly once
func (vs *VotingService) GetResults(ctx context.Context, electionID string) (*ResultsBundle, error) {
	start := time.Now()
	ctx, cancel := vs.withTimeout(ctx)
	defer cancel()

	election, err := vs.store.GetElection(ctx, electionID)
	if err != nil {
		return nil, coreError(err)
	}
	if !election.Status.Tallyable() {
		return nil, models.ErrNotClosed
	}

	report, err := vs.verifyLedger(ctx, electionID)
	if err != nil {
		return nil, err
	}
	if !report.Valid() {
		return nil, models.NewError(models.KindStateConflict, models.CodeLedgerTampered,
			fmt.Sprintf("ledger verification failed at block %d", *report.FirstBadIndex))
	}

	votes, err := vs.store.ListVotes(ctx, electionID)
	if err != nil {
		return nil, coreError(err)
	}

	pk := vs.keys.Paillier()
	sums := make(map[string]*tally, len(election.Candidates))
	for _, c := range election.Candidates {
		zero, err := pk.Encrypt(big.NewInt(0))
		if err != nil {
			return nil, coreError(err)
		}
		sums[c.CandidateID] = &tally{sum: zero}
	}
	for i := range votes {
		v := &votes[i]
		acc, ok := sums[v.CandidateID]
		if !ok {
			return nil, models.NewError(models.KindCrypto, models.CodeTallyInconsistent,
				fmt.Sprintf("ballot %s names unknown candidate", v.VoteID))
		}
		c, err := encryption.ParseCiphertext(v.Ciphertext)
		if err != nil {
			return nil, coreError(err)
		}
		if acc.sum, err = pk.Add(acc.sum, c); err != nil {
			return nil, coreError(err)
		}
		acc.ballots++
	}

	bundle := &ResultsBundle{
		ElectionID:     election.ID,
		Name:           election.Name,
		Status:         election.Status,
		Candidates:     make([]CandidateResult, 0, len(election.Candidates)),
		EligibleVoters: election.EligibleVoters,
		Winners:        []string{},
		LedgerHead:     LedgerHead{Index: report.HeadIndex, Hash: report.HeadHash},
		ComputedAt:     models.FormatTimestamp(vs.now()),
	}
	var best int64
	for _, c := range election.Candidates {
		acc := sums[c.CandidateID]
		m, err := vs.keys.Decrypt(acc.sum)
		if err != nil {
			return nil, coreError(err)
		}
		if !m.IsInt64() || m.Int64() > acc.ballots {
			return nil, models.NewError(models.KindCrypto, models.CodeTallyInconsistent,
				fmt.Sprintf("candidate %s decrypted to %s from %d ballots", c.CandidateID, m, acc.ballots))
		}
		n := m.Int64()
		bundle.TotalVotes += n
		bundle.Candidates = append(bundle.Candidates, CandidateResult{
			CandidateID: c.CandidateID,
			Name:        c.Name,
			Party:       c.Party,
			Votes:       n,
		})
		if n > best {
			best = n
		}
	}
	for i := range bundle.Candidates {
		r := &bundle.Candidates[i]
		r.Percentage = percent(r.Votes, bundle.TotalVotes)
		if best > 0 && r.Votes == best {
			bundle.Winners = append(bundle.Winners, r.CandidateID)
		}
	}
	bundle.Turnout = percent(bundle.TotalVotes, int64(bundle.EligibleVoters))

	sig, err := vs.keys.SignCanonical(bundle.unsigned())
	if err != nil {
		return nil, coreError(err)
	}
	bundle.Signature = sig

	if err := vs.audit.Log(ctx, vs.store, audit.Entry{
		Kind:       models.AuditTallyComputed,
		ElectionID: election.ID,
		Detail:     fmt.Sprintf("%d votes, winners %v", bundle.TotalVotes, bundle.Winners),
		Success:    true,
	}); err != nil {
		return nil, coreError(err)
	}
	vs.metrics.RecordTally(time.Since(start))
	vs.logger.Info(
		"tally computed",
		"component", "tally",
		"election_id", election.ID,
		"total_votes", bundle.TotalVotes,
		"turnout", bundle.Turnout,
	)
	return bundle, nil
}
