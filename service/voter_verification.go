package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"

	"github.com/sruthiidv/BallotGuard-sub000/audit"
	"github.com/sruthiidv/BallotGuard-sub000/models"
	"github.com/sruthiidv/BallotGuard-sub000/storage"
)

// Comparator returns the distance between an enrolled template and a probe.
// Smaller is more similar.
type Comparator func(template, probe []float64) float64

// EuclideanDistance is the default comparator
func EuclideanDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// FaceMatcher holds the per-voter failure windows. Windows live in memory
// only and are measured on a monotonic clock.
type FaceMatcher struct {
	mu       sync.Mutex
	clock    mclock.Clock
	compare  Comparator
	sessions map[string]*authSession

	threshold   float64
	window      time.Duration
	lockout     time.Duration
	maxFailures int
}

func NewFaceMatcher(cfg Config, clock mclock.Clock, compare Comparator) *FaceMatcher {
	if clock == nil {
		clock = mclock.System{}
	}
	if compare == nil {
		compare = EuclideanDistance
	}
	return &FaceMatcher{
		clock:       clock,
		compare:     compare,
		sessions:    make(map[string]*authSession),
		threshold:   cfg.FaceThreshold,
		window:      cfg.FailureWindow,
		lockout:     cfg.LockoutDuration,
		maxFailures: cfg.MaxFailures,
	}
}

// Locked reports whether the voter is inside a lockout
func (m *FaceMatcher) Locked(voterID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[voterID]
	return ok && s.locked(m.clock.Now())
}

type matchResult struct {
	pass          bool
	distance      float64
	lockoutBegan  bool
	lockedFor     time.Duration
	alreadyLocked bool
}

// match compares and records the outcome under the lock, so two concurrent
// probes cannot both slip under the failure limit
func (m *FaceMatcher) match(voterID string, template, probe []float64) matchResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	s, ok := m.sessions[voterID]
	if !ok {
		s = &authSession{}
		m.sessions[voterID] = s
	}
	if s.locked(now) {
		return matchResult{alreadyLocked: true, lockedFor: s.remaining(now)}
	}
	res := matchResult{distance: m.compare(template, probe)}
	res.pass = res.distance <= m.threshold
	if res.pass {
		s.succeed()
	} else if s.fail(now, m.window, m.lockout, m.maxFailures) {
		res.lockoutBegan = true
		res.lockedFor = s.remaining(now)
	}
	if s.idle(now, m.window) {
		delete(m.sessions, voterID)
	}
	return res
}

type VerifyFaceRequest struct {
	VoterID    string    `json:"voter_id"`
	ElectionID string    `json:"election_id"`
	Probe      []float64 `json:"face_encoding"`
}

type VerifyFaceResponse struct {
	Pass       bool    `json:"pass"`
	Confidence float64 `json:"confidence"`
	VoterID    string  `json:"voter_id"`
}

func validateEncoding(v []float64) error {
	if len(v) != models.FaceEncodingDim {
		return models.NewError(models.KindValidation, models.CodeBadFaceDim,
			fmt.Sprintf("face encoding must have %d values, got %d", models.FaceEncodingDim, len(v)))
	}
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return models.NewError(models.KindValidation, models.CodeBadFaceDim,
				"face encoding contains non-finite values")
		}
	}
	return nil
}

// VerifyFace matches a probe against the voter's enrolled template. A
// mismatch is a normal result, not an error; errors are reserved for voters
// who may not authenticate at all.
func (vs *VotingService) VerifyFace(ctx context.Context, req *VerifyFaceRequest) (*VerifyFaceResponse, error) {
	if req.VoterID == "" || req.ElectionID == "" {
		return nil, models.Validation("voter_id and election_id are required")
	}
	if err := validateEncoding(req.Probe); err != nil {
		return nil, err
	}
	ctx, cancel := vs.withTimeout(ctx)
	defer cancel()

	voter, err := vs.store.GetVoter(ctx, req.VoterID)
	if err != nil {
		return nil, coreError(err)
	}
	if voter.Status == models.VoterBlocked {
		return nil, models.ErrNotEligible
	}
	ves, err := vs.store.GetVoterStatus(ctx, req.ElectionID, req.VoterID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrNotEligible
	}
	if err != nil {
		return nil, coreError(err)
	}
	if ves.Status != models.EligibilityActive {
		return nil, models.ErrNotEligible
	}
	if ves.Voted {
		return nil, models.ErrAlreadyVoted
	}

	template, err := vs.keys.OpenTemplate(voter.Template)
	if err != nil {
		return nil, coreError(err)
	}
	if len(template) != len(req.Probe) {
		return nil, models.WrapError(models.KindCrypto, models.CodeCryptoError,
			"stored template has the wrong dimension", nil)
	}

	res := vs.matcher.match(req.VoterID, template, req.Probe)
	if res.alreadyLocked {
		vs.logAuth(ctx, audit.Entry{
			Kind:       models.AuditFaceAuthLockout,
			ElectionID: req.ElectionID,
			Detail:     fmt.Sprintf("voter %s attempted during lockout, %s remaining", req.VoterID, res.lockedFor.Round(time.Second)),
			Success:    false,
		})
		return nil, models.ErrAccountLocked
	}

	confidence := 1 - res.distance
	vs.metrics.RecordFaceAuth(res.pass)
	if res.pass {
		err := vs.transact(ctx, func(tx *storage.Tx, events *audit.Batch) error {
			if err := tx.TouchAuth(req.ElectionID, req.VoterID, vs.now()); err != nil {
				return err
			}
			return events.Log(ctx, tx, audit.Entry{
				Kind:       models.AuditFaceAuth,
				ElectionID: req.ElectionID,
				Detail:     fmt.Sprintf("voter %s confidence %.4f", req.VoterID, confidence),
				Success:    true,
			})
		})
		if err != nil {
			return nil, coreError(err)
		}
	} else {
		vs.logAuth(ctx, audit.Entry{
			Kind:       models.AuditFaceAuth,
			ElectionID: req.ElectionID,
			Detail:     fmt.Sprintf("voter %s confidence %.4f", req.VoterID, confidence),
			Success:    false,
		})
	}
	if res.lockoutBegan {
		vs.metrics.RecordLockout()
		vs.logAuth(ctx, audit.Entry{
			Kind:       models.AuditFaceAuthLockout,
			ElectionID: req.ElectionID,
			Detail:     fmt.Sprintf("voter %s locked for %s", req.VoterID, res.lockedFor.Round(time.Second)),
			Success:    true,
		})
		vs.logger.Warn(
			"voter locked out",
			"component", "biometric",
			"voter_id", req.VoterID,
			"locked_for", res.lockedFor,
		)
	}
	return &VerifyFaceResponse{
		Pass:       res.pass,
		Confidence: confidence,
		VoterID:    req.VoterID,
	}, nil
}

// logAuth writes an audit event outside any transaction. A failed write is
// logged and does not change the verification result.
func (vs *VotingService) logAuth(ctx context.Context, e audit.Entry) {
	if err := vs.audit.Log(ctx, vs.store, e); err != nil {
		vs.logger.Error(
			"failed to write audit event",
			"component", "biometric",
			"event_type", e.Kind,
			"error", err,
		)
	}
}
