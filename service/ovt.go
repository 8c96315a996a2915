package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sruthiidv/BallotGuard-sub000/audit"
	"github.com/sruthiidv/BallotGuard-sub000/models"
	"github.com/sruthiidv/BallotGuard-sub000/storage"
)

type IssueOVTRequest struct {
	VoterID    string `json:"voter_id"`
	ElectionID string `json:"election_id"`
}

// SignedOVT is the token as handed to the kiosk
type SignedOVT struct {
	OVT       models.TokenRecord `json:"ovt"`
	ServerSig string             `json:"server_sig"`
}

// IssueOVT mints a one-time voting token. Any token still open for the same
// voter and election is closed first.
func (vs *VotingService) IssueOVT(ctx context.Context, req *IssueOVTRequest) (*SignedOVT, error) {
	if req.VoterID == "" || req.ElectionID == "" {
		return nil, models.Validation("voter_id and election_id are required")
	}
	ctx, cancel := vs.withTimeout(ctx)
	defer cancel()

	if vs.matcher.Locked(req.VoterID) {
		return nil, models.ErrAccountLocked
	}

	var token *models.OVT
	err := vs.transact(ctx, func(tx *storage.Tx, events *audit.Batch) error {
		now := vs.now()
		election, err := tx.GetElection(req.ElectionID)
		if err != nil {
			return err
		}
		if election.Status != models.ElectionOpen {
			return models.ErrElectionNotOpen
		}
		voter, err := tx.GetVoter(req.VoterID)
		if err != nil {
			return err
		}
		if voter.Status == models.VoterBlocked {
			return models.ErrNotEligible
		}
		ves, err := tx.GetVoterStatus(req.ElectionID, req.VoterID)
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotEligible
		}
		if err != nil {
			return err
		}
		if ves.Status != models.EligibilityActive {
			return models.ErrNotEligible
		}
		if ves.Voted {
			return models.ErrAlreadyVoted
		}
		if vs.cfg.RequireFaceAuth && !vs.freshAuth(ves, now) {
			return models.NewError(models.KindAuthFailed, models.CodeAuthRequired,
				"a recent successful face verification is required")
		}

		revoked, expired, err := tx.RevokeOpenOVTs(req.ElectionID, req.VoterID, now)
		if err != nil {
			return err
		}
		if revoked+expired > 0 {
			vs.logger.Debug(
				"closed open tokens",
				"component", "ovt",
				"voter_id", req.VoterID,
				"election_id", req.ElectionID,
				"revoked", revoked,
				"expired", expired,
			)
		}

		token = &models.OVT{
			UUID:       uuid.NewString(),
			ElectionID: req.ElectionID,
			VoterID:    req.VoterID,
			Status:     models.OVTIssued,
			NotBefore:  now,
			ExpiresAt:  now.Add(vs.cfg.OVTTTL),
			IssuedAt:   now,
		}
		if err := tx.InsertOVT(token); err != nil {
			return err
		}
		return events.Log(ctx, tx, audit.Entry{
			Kind:       models.AuditOVTIssued,
			ElectionID: req.ElectionID,
			Detail:     "ovt " + token.UUID + " for voter " + req.VoterID,
			Success:    true,
		})
	})
	if err != nil {
		return nil, coreError(err)
	}

	record := token.Record()
	sig, err := vs.keys.SignCanonical(record)
	if err != nil {
		return nil, coreError(err)
	}
	vs.metrics.RecordOVTIssued()
	vs.logger.Info(
		"issued voting token",
		"component", "ovt",
		"voter_id", req.VoterID,
		"election_id", req.ElectionID,
		"expires_at", record.ExpiresAt,
	)
	return &SignedOVT{OVT: record, ServerSig: sig}, nil
}

func (vs *VotingService) freshAuth(ves *models.VoterElectionStatus, now time.Time) bool {
	if ves.LastAuthAt == nil {
		return false
	}
	return now.Sub(*ves.LastAuthAt) <= vs.cfg.AuthFreshness
}

type VerifyOVTResponse struct {
	Valid bool `json:"valid"`
}

// VerifyOVTToken checks the server signature on a token a kiosk presents. It
// does not consult token status.
func (vs *VotingService) VerifyOVTToken(token *SignedOVT) *VerifyOVTResponse {
	return &VerifyOVTResponse{
		Valid: token != nil && vs.keys.VerifyCanonical(token.OVT, token.ServerSig),
	}
}

// validateOVT is the authoritative token check. It runs inside the cast
// transaction; the caller spends the token once the ballot is written.
func (vs *VotingService) validateOVT(tx *storage.Tx, ovtUUID, electionID string, now time.Time) (*models.OVT, error) {
	token, err := tx.GetOVT(ovtUUID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrOvtNotFound
	}
	if err != nil {
		return nil, err
	}
	if token.ElectionID != electionID {
		return nil, models.ErrOvtElectionMismatch
	}
	switch token.Status {
	case models.OVTSpent:
		ves, err := tx.GetVoterStatus(token.ElectionID, token.VoterID)
		if err == nil && ves.Voted {
			return nil, models.ErrAlreadyVoted
		}
		return nil, models.ErrOvtSpent
	case models.OVTRevoked:
		return nil, models.ErrOvtRevoked
	case models.OVTExpired:
		return nil, models.ErrOvtExpired
	}
	if now.Before(token.NotBefore) {
		return nil, models.ErrOvtNotYetValid
	}
	if token.Expired(now) {
		return nil, models.ErrOvtExpired
	}
	return token, nil
}

// expireToken records a TTL failure after the cast transaction rolled back
func (vs *VotingService) expireToken(ctx context.Context, ovtUUID string) {
	err := vs.store.Transaction(ctx, func(tx *storage.Tx) error {
		return tx.ExpireOVT(ovtUUID)
	})
	if err != nil && !errors.Is(err, models.ErrStateConflict) {
		vs.logger.Warn(
			"failed to mark token expired",
			"component", "ovt",
			"ovt_uuid", ovtUUID,
			"error", err,
		)
	}
}

func formatIndex(i uint64) string {
	return strconv.FormatUint(i, 10)
}
