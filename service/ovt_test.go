package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sruthiidv/BallotGuard-sub000/models"
)

func TestIssueOVTSignsToken(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1")
	issuedAt := h.clock.Now()
	tok := h.readyVoter("V1", "E1")

	assert.Equal(t, "E1", tok.OVT.ElectionID)
	assert.Equal(t, "V1", tok.OVT.VoterID)
	assert.Equal(t, models.FormatTimestamp(issuedAt), tok.OVT.NotBefore)
	assert.Equal(t, models.FormatTimestamp(issuedAt.Add(300*time.Second)), tok.OVT.ExpiresAt)
	assert.True(t, h.vs.VerifyOVTToken(tok).Valid)

	forged := *tok
	forged.OVT.VoterID = "V2"
	assert.False(t, h.vs.VerifyOVTToken(&forged).Valid)
	assert.False(t, h.vs.VerifyOVTToken(nil).Valid)

	assert.Contains(t, h.auditKinds("E1"), models.AuditOVTIssued)
}

func TestReissueRevokesOpenToken(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1")
	first := h.readyVoter("V1", "E1")
	second := h.issue("V1", "E1")
	require.NotEqual(t, first.OVT.OvtUUID, second.OVT.OvtUUID)

	o, err := h.store.GetOVT(h.ctx, first.OVT.OvtUUID)
	require.NoError(t, err)
	assert.Equal(t, models.OVTRevoked, o.Status)

	_, err = h.cast("v-1", "E1", "C1", "42", first)
	require.ErrorIs(t, err, models.ErrOvtRevoked)
	_, err = h.cast("v-1", "E1", "C1", "42", second)
	require.NoError(t, err)
}

func TestReissueExpiresStaleToken(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1")
	first := h.readyVoter("V1", "E1")

	h.clock.Advance(301 * time.Second)
	h.authenticate("V1", "E1")
	h.issue("V1", "E1")

	o, err := h.store.GetOVT(h.ctx, first.OVT.OvtUUID)
	require.NoError(t, err)
	assert.Equal(t, models.OVTExpired, o.Status)
}

func TestOVTExpiresAtBoundary(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1")
	early := h.readyVoter("V1", "E1")
	exact := h.readyVoter("V2", "E1")

	h.clock.Advance(300*time.Second - time.Microsecond)
	_, err := h.cast("v-1", "E1", "C1", "42", early)
	require.NoError(t, err)

	h.clock.Advance(time.Microsecond)
	_, err = h.cast("v-2", "E1", "C1", "42", exact)
	require.ErrorIs(t, err, models.ErrOvtExpired)

	o, err := h.store.GetOVT(h.ctx, exact.OVT.OvtUUID)
	require.NoError(t, err)
	assert.Equal(t, models.OVTExpired, o.Status)
}

func TestOVTNotYetValid(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1")
	tok := h.readyVoter("V1", "E1")

	h.clock.Advance(-time.Second)
	_, err := h.cast("v-1", "E1", "C1", "42", tok)
	require.ErrorIs(t, err, models.ErrOvtNotYetValid)
}

func TestIssueOVTRequiresRecentFaceAuth(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1")
	h.enroll("V1", "E1")

	_, err := h.vs.IssueOVT(h.ctx, &IssueOVTRequest{VoterID: "V1", ElectionID: "E1"})
	e, ok := models.AsError(err)
	require.True(t, ok)
	assert.Equal(t, models.CodeAuthRequired, e.Code)
	assert.Equal(t, models.KindAuthFailed, e.Kind)

	h.authenticate("V1", "E1")
	h.clock.Advance(5*time.Minute + time.Second)
	_, err = h.vs.IssueOVT(h.ctx, &IssueOVTRequest{VoterID: "V1", ElectionID: "E1"})
	e, ok = models.AsError(err)
	require.True(t, ok)
	assert.Equal(t, models.CodeAuthRequired, e.Code)
}

func TestIssueOVTRejections(t *testing.T) {
	h := newHarness(t)
	h.createElection("E1", "C1")
	h.enroll("V1", "E1")
	h.authenticate("V1", "E1")
	_, err := h.vs.EnrollVoter(h.ctx, &EnrollVoterRequest{VoterID: "pending", FaceEncoding: enrolledFace})
	require.NoError(t, err)

	tests := []struct {
		name       string
		voterID    string
		electionID string
		code       string
	}{
		{"missing ids", "", "E1", models.CodeValidation},
		{"unknown election", "V1", "E9", models.CodeNotFound},
		{"unknown voter", "ghost", "E1", models.CodeNotFound},
		{"not approved", "pending", "E1", models.CodeNotEligible},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.vs.IssueOVT(h.ctx, &IssueOVTRequest{VoterID: tc.voterID, ElectionID: tc.electionID})
			e, ok := models.AsError(err)
			require.True(t, ok, "error %v", err)
			assert.Equal(t, tc.code, e.Code)
		})
	}

	h.transition("E1", "pause")
	_, err = h.vs.IssueOVT(h.ctx, &IssueOVTRequest{VoterID: "V1", ElectionID: "E1"})
	assert.ErrorIs(t, err, models.ErrElectionNotOpen)
}
