package service

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sruthiidv/BallotGuard-sub000/keystore"
	"github.com/sruthiidv/BallotGuard-sub000/models"
	"github.com/sruthiidv/BallotGuard-sub000/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testSalt = "f00dbabe"

var (
	keysOnce sync.Once
	testKeys *keystore.KeyStore
	keysErr  error
)

// sharedKeys generates one small keypair for the whole package
func sharedKeys(t *testing.T) *keystore.KeyStore {
	t.Helper()
	keysOnce.Do(func() {
		testKeys, keysErr = keystore.Generate(1024, 512, "test-biometric-secret")
	})
	require.NoError(t, keysErr)
	return testKeys
}

type wallClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *wallClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *wallClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	vs    *VotingService
	store *storage.Store
	keys  *keystore.KeyStore
	clock *wallClock
	sim   *mclock.Simulated
	reg   *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.Open(storage.Config{Driver: storage.DriverSqlite}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{
		t:     t,
		ctx:   context.Background(),
		store: store,
		keys:  sharedKeys(t),
		clock: &wallClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		sim:   &mclock.Simulated{},
		reg:   prometheus.NewRegistry(),
	}
	h.vs = NewVotingService(store, h.keys, DefaultConfig(),
		WithClock(h.clock.Now),
		WithMonotonicClock(h.sim),
		WithPromRegistry(h.reg),
	)
	return h
}

// face returns an encoding with every coordinate set to v
func face(v float64) []float64 {
	f := make([]float64, models.FaceEncodingDim)
	for i := range f {
		f[i] = v
	}
	return f
}

var enrolledFace = face(0.25)

// createElection creates an election with the given candidates and the fixed
// test salt, and opens it
func (h *harness) createElection(id string, candidates ...string) *models.Election {
	h.t.Helper()
	req := &CreateElectionRequest{ElectionID: id, Name: "Election " + id}
	for _, c := range candidates {
		req.Candidates = append(req.Candidates, CandidateInput{CandidateID: c, Name: "Candidate " + c})
	}
	e, err := h.vs.CreateElection(h.ctx, req)
	require.NoError(h.t, err)
	err = h.store.DB().Model(&models.Election{}).
		Where("election_id = ?", id).
		Update("salt", testSalt).Error
	require.NoError(h.t, err)
	h.transition(id, "open")
	return e
}

func (h *harness) transition(id, action string) {
	h.t.Helper()
	_, err := h.vs.TransitionElection(h.ctx, id, action)
	require.NoError(h.t, err)
}

func (h *harness) enroll(voterID, electionID string) {
	h.t.Helper()
	_, err := h.vs.EnrollVoter(h.ctx, &EnrollVoterRequest{VoterID: voterID, FaceEncoding: enrolledFace})
	require.NoError(h.t, err)
	_, err = h.vs.ApproveVoter(h.ctx, voterID, electionID)
	require.NoError(h.t, err)
}

func (h *harness) authenticate(voterID, electionID string) {
	h.t.Helper()
	res, err := h.verifyFace(voterID, electionID, enrolledFace)
	require.NoError(h.t, err)
	require.True(h.t, res.Pass)
}

func (h *harness) verifyFace(voterID, electionID string, probe []float64) (*VerifyFaceResponse, error) {
	return h.vs.VerifyFace(h.ctx, &VerifyFaceRequest{
		VoterID:    voterID,
		ElectionID: electionID,
		Probe:      probe,
	})
}

func (h *harness) issue(voterID, electionID string) *SignedOVT {
	h.t.Helper()
	tok, err := h.vs.IssueOVT(h.ctx, &IssueOVTRequest{VoterID: voterID, ElectionID: electionID})
	require.NoError(h.t, err)
	return tok
}

// readyVoter enrolls, approves and authenticates a voter and issues a token
func (h *harness) readyVoter(voterID, electionID string) *SignedOVT {
	h.t.Helper()
	h.enroll(voterID, electionID)
	h.authenticate(voterID, electionID)
	return h.issue(voterID, electionID)
}

func (h *harness) encrypt(m int64) string {
	h.t.Helper()
	c, err := h.keys.Paillier().Encrypt(big.NewInt(m))
	require.NoError(h.t, err)
	return c.String()
}

func castRequest(voteID, electionID, candidateID, ciphertext string, tok *SignedOVT) *CastVoteRequest {
	return &CastVoteRequest{
		VoteID:        voteID,
		ElectionID:    electionID,
		CandidateID:   candidateID,
		EncryptedVote: EncryptedBallot{Ciphertext: ciphertext},
		OVT:           OVTRef{OvtUUID: tok.OVT.OvtUUID},
	}
}

func (h *harness) cast(voteID, electionID, candidateID, ciphertext string, tok *SignedOVT) (*CastVoteResponse, error) {
	return h.vs.CastVote(h.ctx, castRequest(voteID, electionID, candidateID, ciphertext, tok))
}

func (h *harness) blocks(electionID string) []models.LedgerBlock {
	h.t.Helper()
	blocks, err := h.store.ListBlocks(h.ctx, electionID)
	require.NoError(h.t, err)
	return blocks
}

func (h *harness) auditKinds(electionID string) []models.AuditKind {
	h.t.Helper()
	events, err := h.vs.ListAuditEvents(h.ctx, electionID, 0)
	require.NoError(h.t, err)
	kinds := make([]models.AuditKind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}
