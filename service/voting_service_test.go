package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sruthiidv/BallotGuard-sub000/audit"
	"github.com/sruthiidv/BallotGuard-sub000/blockchain/ledger"
	"github.com/sruthiidv/BallotGuard-sub000/encryption"
	"github.com/sruthiidv/BallotGuard-sub000/models"
	"github.com/sruthiidv/BallotGuard-sub000/storage"
)

func TestCastVoteIssuesReceipt(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1", "C2")
	tok := h.readyVoter("V1", "E1")

	resp, err := h.cast("v-1", "E1", "C1", "42", tok)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), resp.LedgerIndex)

	blocks := h.blocks("E1")
	require.Len(t, blocks, 2)
	want, err := ledger.CalculateHash(models.BlockHeader{
		Index:        1,
		Timestamp:    blocks[1].Timestamp,
		VoteHash:     encryption.VoteHash("42", testSalt),
		PreviousHash: blocks[0].Hash,
	})
	require.NoError(t, err)
	assert.Equal(t, want, resp.BlockHash)
	assert.Equal(t, want, resp.Receipt.BlockHash)
	assert.Equal(t, "v-1", resp.Receipt.VoteID)
	assert.Equal(t, "E1", resp.Receipt.ElectionID)
	assert.True(t, h.keys.VerifyCanonical(resp.Receipt.ReceiptPayload, resp.Receipt.Sig))

	// Identical re-post returns the same receipt without a new block
	again, err := h.cast("v-1", "E1", "C1", "42", tok)
	require.NoError(t, err)
	assert.Equal(t, resp, again)
	assert.Len(t, h.blocks("E1"), 2)

	ves, err := h.store.GetVoterStatus(h.ctx, "E1", "V1")
	require.NoError(t, err)
	assert.True(t, ves.Voted)
	o, err := h.store.GetOVT(h.ctx, tok.OVT.OvtUUID)
	require.NoError(t, err)
	assert.Equal(t, models.OVTSpent, o.Status)

	kinds := h.auditKinds("E1")
	assert.Contains(t, kinds, models.AuditOVTSpent)
	assert.Contains(t, kinds, models.AuditVoteCast)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.vs.metrics.votesCast))
}

func TestSecondCastIsAlreadyVoted(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1", "C2")
	tok := h.readyVoter("V1", "E1")
	_, err := h.cast("v-1", "E1", "C1", "42", tok)
	require.NoError(t, err)

	_, err = h.cast("v-2", "E1", "C2", "42", tok)
	require.ErrorIs(t, err, models.ErrAlreadyVoted)
	assert.Len(t, h.blocks("E1"), 2)

	_, err = h.vs.IssueOVT(h.ctx, &IssueOVTRequest{VoterID: "V1", ElectionID: "E1"})
	assert.ErrorIs(t, err, models.ErrAlreadyVoted)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.vs.metrics.castRejected.WithLabelValues(models.CodeAlreadyVoted)))
}

func TestDuplicateVoteIDWithDifferentBallot(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1", "C2")
	tok1 := h.readyVoter("V1", "E1")
	tok2 := h.readyVoter("V2", "E1")

	_, err := h.cast("v-1", "E1", "C1", h.encrypt(1), tok1)
	require.NoError(t, err)

	_, err = h.cast("v-1", "E1", "C2", h.encrypt(1), tok2)
	e, ok := models.AsError(err)
	require.True(t, ok)
	assert.Equal(t, models.CodeDuplicateVoteID, e.Code)
	assert.Equal(t, models.KindStateConflict, e.Kind)
	assert.Len(t, h.blocks("E1"), 2)

	// The second voter's token is untouched
	o, err := h.store.GetOVT(h.ctx, tok2.OVT.OvtUUID)
	require.NoError(t, err)
	assert.Equal(t, models.OVTIssued, o.Status)
}

func TestCastVoteRejections(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1", "C2")
	h.createElection("E2", "C1")
	tok := h.readyVoter("V1", "E1")
	other := h.readyVoter("V2", "E2")

	tests := []struct {
		name string
		req  *CastVoteRequest
		code string
	}{
		{"missing vote id", castRequest("", "E1", "C1", "42", tok), models.CodeValidation},
		{"unknown candidate", castRequest("v-1", "E1", "C9", "42", tok), models.CodeInvalidVote},
		{"not a number", castRequest("v-1", "E1", "C1", "forty-two", tok), models.CodeInvalidVote},
		{"zero ciphertext", castRequest("v-1", "E1", "C1", "0", tok), models.CodeInvalidVote},
		{"negative ciphertext", castRequest("v-1", "E1", "C1", "-42", tok), models.CodeInvalidVote},
		{"unknown token", castRequest("v-1", "E1", "C1", "42", &SignedOVT{OVT: models.TokenRecord{OvtUUID: "nope"}}), models.CodeOvtNotFound},
		{"token of another election", castRequest("v-1", "E1", "C1", "42", other), models.CodeOvtElectionMismatch},
		{"unknown election", castRequest("v-1", "E9", "C1", "42", tok), models.CodeNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.vs.CastVote(h.ctx, tc.req)
			e, ok := models.AsError(err)
			require.True(t, ok, "error %v", err)
			assert.Equal(t, tc.code, e.Code)
		})
	}

	// Nothing above touched the ledger or the token
	assert.Len(t, h.blocks("E1"), 1)
	resp, err := h.cast("v-1", "E1", "C1", "42", tok)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), resp.LedgerIndex)
}

func TestCastRequiresOpenElection(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1")
	tok := h.readyVoter("V1", "E1")
	h.transition("E1", "pause")

	_, err := h.cast("v-1", "E1", "C1", "42", tok)
	require.ErrorIs(t, err, models.ErrElectionNotOpen)

	h.transition("E1", "resume")
	_, err = h.cast("v-1", "E1", "C1", "42", tok)
	require.NoError(t, err)
}

func TestBlockedVoterCannotCast(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1")
	tok := h.readyVoter("V1", "E1")

	resp, err := h.vs.BlockVoter(h.ctx, "V1")
	require.NoError(t, err)
	assert.Equal(t, models.VoterBlocked, resp.Status)

	_, err = h.cast("v-1", "E1", "C1", "42", tok)
	require.ErrorIs(t, err, models.ErrNotEligible)

	e, err := h.vs.GetElection(h.ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, 0, e.EligibleVoters)
}

func TestFailureBeforeMarkVotedRollsBack(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1", "C2")
	tok := h.readyVoter("V1", "E1")

	h.vs.beforeMarkVoted = func(*storage.Tx) error {
		return errors.New("simulated crash")
	}
	_, err := h.cast("v-1", "E1", "C1", "42", tok)
	require.Error(t, err)

	assert.Len(t, h.blocks("E1"), 1)
	_, err = h.store.GetVote(h.ctx, "v-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	ves, err := h.store.GetVoterStatus(h.ctx, "E1", "V1")
	require.NoError(t, err)
	assert.False(t, ves.Voted)
	o, err := h.store.GetOVT(h.ctx, tok.OVT.OvtUUID)
	require.NoError(t, err)
	assert.Equal(t, models.OVTIssued, o.Status)
	assert.NotContains(t, h.auditKinds("E1"), models.AuditVoteCast)

	h.vs.beforeMarkVoted = nil
	resp, err := h.cast("v-1", "E1", "C1", "42", tok)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), resp.LedgerIndex)
}

func TestResetThenCastStartsAtIndexOne(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1")
	tok := h.readyVoter("V1", "E1")
	_, err := h.cast("v-1", "E1", "C1", "42", tok)
	require.NoError(t, err)
	genesis := h.blocks("E1")[0]

	h.transition("E1", "reset")
	assert.Len(t, h.blocks("E1"), 1)
	ves, err := h.store.GetVoterStatus(h.ctx, "E1", "V1")
	require.NoError(t, err)
	assert.False(t, ves.Voted)

	h.transition("E1", "open")
	tok = h.issue("V1", "E1")
	resp, err := h.cast("v-1", "E1", "C1", "42", tok)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), resp.LedgerIndex)
	blocks := h.blocks("E1")
	require.Len(t, blocks, 2)
	assert.Equal(t, genesis.Hash, blocks[1].PrevHash)
	assert.Contains(t, h.auditKinds("E1"), models.AuditElectionTransition)
}

func TestConcurrentCastsKeepLedgerDense(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1", "C2")
	const voters = 8
	tokens := make([]*SignedOVT, voters)
	ballots := make([]string, voters)
	for i := range tokens {
		tokens[i] = h.readyVoter(fmt.Sprintf("V%d", i), "E1")
		ballots[i] = h.encrypt(1)
	}

	var wg sync.WaitGroup
	indices := make([]uint64, voters)
	errs := make([]error, voters)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := h.cast(fmt.Sprintf("v-%d", i), "E1", "C1", ballots[i], tokens[i])
			errs[i] = err
			if err == nil {
				indices[i] = resp.LedgerIndex
			}
		}(i)
	}
	wg.Wait()

	seen := map[uint64]bool{}
	for i := range tokens {
		require.NoError(t, errs[i])
		seen[indices[i]] = true
	}
	for i := uint64(1); i <= voters; i++ {
		assert.True(t, seen[i], "missing ledger index %d", i)
	}
	report, err := h.vs.VerifyLedger(h.ctx, "E1")
	require.NoError(t, err)
	assert.True(t, report.Valid())
	assert.Equal(t, voters+1, report.TotalBlocks)
}

func TestConcurrentDoubleSpendCastsOnce(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1")
	tok := h.readyVoter("V1", "E1")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.cast(fmt.Sprintf("v-%d", i), "E1", "C1", "42", tok)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, models.ErrAlreadyVoted) || errors.Is(err, models.ErrOvtSpent), "unexpected error %v", err)
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, h.blocks("E1"), 2)
}

func TestCastVoteHonoursContext(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1")
	tok := h.readyVoter("V1", "E1")

	ctx, cancel := context.WithCancel(h.ctx)
	cancel()
	_, err := h.vs.CastVote(ctx, castRequest("v-1", "E1", "C1", "42", tok))
	require.ErrorIs(t, err, models.ErrTimeout)
}

func TestReplayResignsMissingReceipt(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1")
	tok := h.readyVoter("V1", "E1")
	resp, err := h.cast("v-1", "E1", "C1", "42", tok)
	require.NoError(t, err)

	// A crash between commit and persisting the signature leaves it empty
	err = h.store.DB().Model(&models.EncryptedVote{}).
		Where("vote_id = ?", "v-1").
		Update("receipt_sig", "").Error
	require.NoError(t, err)

	again, err := h.cast("v-1", "E1", "C1", "42", tok)
	require.NoError(t, err)
	assert.Equal(t, resp.Receipt.ReceiptPayload, again.Receipt.ReceiptPayload)
	assert.True(t, h.keys.VerifyCanonical(again.Receipt.ReceiptPayload, again.Receipt.Sig))

	v, err := h.store.GetVote(h.ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, again.Receipt.Sig, v.ReceiptSig)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 0.5, cfg.FaceThreshold)
	assert.Equal(t, 60*time.Second, cfg.FailureWindow)
	assert.Equal(t, 3, cfg.MaxFailures)
	assert.Equal(t, 15*time.Minute, cfg.LockoutDuration)
	assert.Equal(t, 300*time.Second, cfg.OVTTTL)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
}

func TestReplayedCastIsNotCountedAgain(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1", "C2")
	tok := h.readyVoter("V1", "E1")

	first, err := h.cast("v-1", "E1", "C1", "42", tok)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := h.cast("v-1", "E1", "C1", "42", tok)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(h.vs.metrics.votesCast))
	assert.Len(t, h.blocks("E1"), 2)
}

func TestAuditEventsPublishAfterCommit(t *testing.T) {
	h := newHarness(t)

	err := h.vs.transact(h.ctx, func(tx *storage.Tx, events *audit.Batch) error {
		require.NoError(t, events.Log(h.ctx, tx, audit.Entry{
			Kind:    models.AuditVoterEnrolled,
			Detail:  "voter V9",
			Success: true,
		}))
		return errors.New("rolled back")
	})
	require.Error(t, err)
	n, err := testutil.GatherAndCount(h.reg, "ballotguard_audit_events_total")
	require.NoError(t, err)
	assert.Zero(t, n)
	events, err := h.vs.ListAuditEvents(h.ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = h.vs.EnrollVoter(h.ctx, &EnrollVoterRequest{VoterID: "V9", FaceEncoding: enrolledFace})
	require.NoError(t, err)
	n, err = testutil.GatherAndCount(h.reg, "ballotguard_audit_events_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
