package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sruthiidv/BallotGuard-sub000/models"
)

func TestTallyTie(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1", "C2")
	tok1 := h.readyVoter("V1", "E1")
	tok2 := h.readyVoter("V2", "E1")
	_, err := h.cast("v-1", "E1", "C1", h.encrypt(1), tok1)
	require.NoError(t, err)
	_, err = h.cast("v-2", "E1", "C2", h.encrypt(1), tok2)
	require.NoError(t, err)
	h.transition("E1", "close")

	bundle, err := h.vs.GetResults(h.ctx, "E1")
	require.NoError(t, err)
	require.Len(t, bundle.Candidates, 2)
	assert.Equal(t, "C1", bundle.Candidates[0].CandidateID)
	assert.Equal(t, int64(1), bundle.Candidates[0].Votes)
	assert.Equal(t, int64(1), bundle.Candidates[1].Votes)
	assert.Equal(t, 50.0, bundle.Candidates[0].Percentage)
	assert.Equal(t, []string{"C1", "C2"}, bundle.Winners)
	assert.Equal(t, int64(2), bundle.TotalVotes)
	assert.Equal(t, 2, bundle.EligibleVoters)
	assert.Equal(t, 100.0, bundle.Turnout)
	assert.Equal(t, uint64(2), bundle.LedgerHead.Index)
	assert.Equal(t, models.ElectionClosed, bundle.Status)

	assert.True(t, h.vs.VerifyResults(bundle))
	forged := *bundle
	forged.Winners = []string{"C2"}
	assert.False(t, h.vs.VerifyResults(&forged))

	assert.Contains(t, h.auditKinds("E1"), models.AuditTallyComputed)
}

func TestTallyPicksSingleWinner(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1", "C2", "C3")
	for i, c := range []string{"C2", "C2", "C1"} {
		id := string(rune('a' + i))
		tok := h.readyVoter("V"+id, "E1")
		_, err := h.cast("v-"+id, "E1", c, h.encrypt(1), tok)
		require.NoError(t, err)
	}
	// One eligible voter abstains
	h.enroll("Vd", "E1")
	h.transition("E1", "close")

	bundle, err := h.vs.GetResults(h.ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, []string{"C2"}, bundle.Winners)
	assert.Equal(t, 33.33, bundle.Candidates[0].Percentage)
	assert.Equal(t, 66.67, bundle.Candidates[1].Percentage)
	assert.Equal(t, 0.0, bundle.Candidates[2].Percentage)
	assert.Equal(t, 75.0, bundle.Turnout)
}

func TestTallyWithoutVotes(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1", "C2")
	h.transition("E1", "close")

	bundle, err := h.vs.GetResults(h.ctx, "E1")
	require.NoError(t, err)
	assert.Empty(t, bundle.Winners)
	assert.Equal(t, int64(0), bundle.TotalVotes)
	assert.Equal(t, 0.0, bundle.Turnout)
	for _, c := range bundle.Candidates {
		assert.Equal(t, 0.0, c.Percentage)
	}
}

func TestTallyRequiresClosedElection(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1")

	_, err := h.vs.GetResults(h.ctx, "E1")
	require.ErrorIs(t, err, models.ErrNotClosed)

	h.transition("E1", "close")
	h.transition("E1", "archive")
	_, err = h.vs.GetResults(h.ctx, "E1")
	require.NoError(t, err)
}

func TestTallyRefusesTamperedLedger(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1")
	tok := h.readyVoter("V1", "E1")
	_, err := h.cast("v-1", "E1", "C1", h.encrypt(1), tok)
	require.NoError(t, err)
	h.transition("E1", "close")

	err = h.store.DB().Model(&models.LedgerBlock{}).
		Where("election_id = ? AND ledger_index = ?", "E1", 1).
		Update("vote_hash", strings.Repeat("0", 64)).Error
	require.NoError(t, err)

	_, err = h.vs.GetResults(h.ctx, "E1")
	e, ok := models.AsError(err)
	require.True(t, ok)
	assert.Equal(t, models.CodeLedgerTampered, e.Code)
}

func TestTallyDetectsOutOfRangeTotal(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1")
	tok := h.readyVoter("V1", "E1")
	// A well-formed ciphertext of a value no single ballot may carry
	_, err := h.cast("v-1", "E1", "C1", h.encrypt(5), tok)
	require.NoError(t, err)
	h.transition("E1", "close")

	_, err = h.vs.GetResults(h.ctx, "E1")
	e, ok := models.AsError(err)
	require.True(t, ok)
	assert.Equal(t, models.CodeTallyInconsistent, e.Code)
}
