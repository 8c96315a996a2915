package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sruthiidv/BallotGuard-sub000/models"
)

// Tx is one open transaction. It is only valid inside the function passed to
// Store.Transaction.
type Tx struct {
	db *gorm.DB
}

// CreateElection inserts the election and its candidates in position order
func (t *Tx) CreateElection(e *models.Election) error {
	if err := t.db.Create(e).Error; err != nil {
		if isDuplicate(err) {
			return models.Validation(fmt.Sprintf("election %q already exists", e.ID))
		}
		return fmt.Errorf("failed to insert election: %w", err)
	}
	for i := range e.Candidates {
		c := &e.Candidates[i]
		c.ElectionID = e.ID
		c.Position = i
		if err := t.db.Create(c).Error; err != nil {
			if isDuplicate(err) {
				return models.Validation(fmt.Sprintf("duplicate candidate id %q", c.CandidateID))
			}
			return fmt.Errorf("failed to insert candidate: %w", err)
		}
	}
	return nil
}

// GetElection loads an election with its candidates
func (t *Tx) GetElection(id string) (*models.Election, error) {
	var e models.Election
	if err := t.db.Where("election_id = ?", id).First(&e).Error; err != nil {
		return nil, notFound(err, "election", id)
	}
	if err := t.db.Where("election_id = ?", id).Order("position").Find(&e.Candidates).Error; err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}
	return &e, nil
}

// TransitionElection applies action through the election state chart. Reset
// deletes the election's ballots, tokens and every block but genesis, and
// clears voted flags.
func (t *Tx) TransitionElection(id string, action models.ElectionAction) (*models.Election, models.ElectionStatus, error) {
	e, err := t.GetElection(id)
	if err != nil {
		return nil, "", err
	}
	prev := e.Status
	next, err := prev.Transition(action)
	if err != nil {
		return nil, prev, err
	}
	if action == models.ActionReset {
		if err := t.resetElection(id); err != nil {
			return nil, prev, err
		}
	}
	res := t.db.Model(&models.Election{}).
		Where("election_id = ? AND status = ?", id, prev).
		Update("status", next)
	if res.Error != nil {
		return nil, prev, fmt.Errorf("failed to update election status: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return nil, prev, models.ErrStateConflict
	}
	e.Status = next
	return e, prev, nil
}

func (t *Tx) resetElection(id string) error {
	if err := t.db.Where("election_id = ?", id).Delete(&models.EncryptedVote{}).Error; err != nil {
		return fmt.Errorf("failed to delete votes: %w", err)
	}
	if err := t.db.Where("election_id = ?", id).Delete(&models.OVT{}).Error; err != nil {
		return fmt.Errorf("failed to delete tokens: %w", err)
	}
	if err := t.db.Where("election_id = ? AND ledger_index >= 1", id).Delete(&models.LedgerBlock{}).Error; err != nil {
		return fmt.Errorf("failed to delete blocks: %w", err)
	}
	err := t.db.Model(&models.VoterElectionStatus{}).
		Where("election_id = ?", id).
		Update("voted", false).Error
	if err != nil {
		return fmt.Errorf("failed to clear voted flags: %w", err)
	}
	return nil
}

// EnrollVoter inserts a pending voter with a sealed template
func (t *Tx) EnrollVoter(v *models.Voter) error {
	v.Status = models.VoterPending
	if err := t.db.Create(v).Error; err != nil {
		if isDuplicate(err) {
			return conflict(err)
		}
		return fmt.Errorf("failed to insert voter: %w", err)
	}
	return nil
}

func (t *Tx) GetVoter(id string) (*models.Voter, error) {
	var v models.Voter
	if err := t.db.Where("voter_id = ?", id).First(&v).Error; err != nil {
		return nil, notFound(err, "voter", id)
	}
	return &v, nil
}

// ApproveVoterForElection marks the voter active for the election and
// activates the voter globally unless blocked. A global block is kept and
// still bars the voter from every election. An existing voted flag is kept.
func (t *Tx) ApproveVoterForElection(voterID, electionID string) error {
	v, err := t.GetVoter(voterID)
	if err != nil {
		return err
	}
	if _, err := t.GetElection(electionID); err != nil {
		return err
	}
	if v.Status == models.VoterPending {
		err := t.db.Model(&models.Voter{}).Where("voter_id = ?", voterID).
			Update("status", models.VoterActive).Error
		if err != nil {
			return fmt.Errorf("failed to activate voter: %w", err)
		}
	}
	ves := models.VoterElectionStatus{
		ElectionID: electionID,
		VoterID:    voterID,
		Status:     models.EligibilityActive,
	}
	err = t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "election_id"}, {Name: "voter_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
	}).Create(&ves).Error
	if err != nil {
		return fmt.Errorf("failed to upsert voter election status: %w", err)
	}
	return t.RecountEligible(electionID)
}

// BlockVoter blocks the voter and every per-election status row, returning
// the affected election ids
func (t *Tx) BlockVoter(voterID string) ([]string, error) {
	if _, err := t.GetVoter(voterID); err != nil {
		return nil, err
	}
	err := t.db.Model(&models.Voter{}).Where("voter_id = ?", voterID).
		Update("status", models.VoterBlocked).Error
	if err != nil {
		return nil, fmt.Errorf("failed to block voter: %w", err)
	}
	var electionIDs []string
	err = t.db.Model(&models.VoterElectionStatus{}).
		Where("voter_id = ?", voterID).
		Order("election_id").
		Pluck("election_id", &electionIDs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list voter elections: %w", err)
	}
	err = t.db.Model(&models.VoterElectionStatus{}).
		Where("voter_id = ?", voterID).
		Update("status", models.EligibilityBlocked).Error
	if err != nil {
		return nil, fmt.Errorf("failed to block voter election status: %w", err)
	}
	for _, id := range electionIDs {
		if err := t.RecountEligible(id); err != nil {
			return nil, err
		}
	}
	return electionIDs, nil
}

// RecountEligible sets eligible_voters to the number of active status rows
// whose voter is not globally blocked
func (t *Tx) RecountEligible(electionID string) error {
	var n int64
	err := t.db.Model(&models.VoterElectionStatus{}).
		Joins("JOIN voters ON voters.voter_id = voter_election_status.voter_id").
		Where("voter_election_status.election_id = ? AND voter_election_status.status = ?", electionID, models.EligibilityActive).
		Where("voters.status <> ?", models.VoterBlocked).
		Count(&n).Error
	if err != nil {
		return fmt.Errorf("failed to count eligible voters: %w", err)
	}
	return t.db.Model(&models.Election{}).
		Where("election_id = ?", electionID).
		Update("eligible_voters", n).Error
}

func (t *Tx) GetVoterStatus(electionID, voterID string) (*models.VoterElectionStatus, error) {
	var ves models.VoterElectionStatus
	err := t.db.Where("election_id = ? AND voter_id = ?", electionID, voterID).First(&ves).Error
	if err != nil {
		return nil, notFound(err, "voter election status", electionID+"/"+voterID)
	}
	return &ves, nil
}

// MarkVoted sets the voted flag; a flag that is already set is ALREADY_VOTED
func (t *Tx) MarkVoted(electionID, voterID string) error {
	res := t.db.Model(&models.VoterElectionStatus{}).
		Where("election_id = ? AND voter_id = ? AND voted = ?", electionID, voterID, false).
		Update("voted", true)
	if res.Error != nil {
		return fmt.Errorf("failed to mark voted: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return models.ErrAlreadyVoted
	}
	return nil
}

// TouchAuth records a successful face authentication
func (t *Tx) TouchAuth(electionID, voterID string, at time.Time) error {
	at = at.UTC()
	return t.db.Model(&models.VoterElectionStatus{}).
		Where("election_id = ? AND voter_id = ?", electionID, voterID).
		Update("last_auth_at", &at).Error
}

func (t *Tx) GetOVT(id string) (*models.OVT, error) {
	var o models.OVT
	if err := t.db.Where("ovt_uuid = ?", id).First(&o).Error; err != nil {
		return nil, notFound(err, "voting token", id)
	}
	return &o, nil
}

func (t *Tx) InsertOVT(o *models.OVT) error {
	if err := t.db.Create(o).Error; err != nil {
		if isDuplicate(err) {
			return conflict(err)
		}
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

// RevokeOpenOVTs closes every issued token of the pair: tokens past their
// expiry become expired, the rest revoked
func (t *Tx) RevokeOpenOVTs(electionID, voterID string, now time.Time) (revoked, expired int, err error) {
	var open []models.OVT
	err = t.db.Where("election_id = ? AND voter_id = ? AND status = ?", electionID, voterID, models.OVTIssued).
		Find(&open).Error
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list open tokens: %w", err)
	}
	for i := range open {
		to := models.OVTRevoked
		if open[i].Expired(now) {
			to = models.OVTExpired
		}
		if err := t.setOVTStatus(open[i].UUID, to); err != nil {
			return revoked, expired, err
		}
		if to == models.OVTExpired {
			expired++
		} else {
			revoked++
		}
	}
	return revoked, expired, nil
}

// SpendOVT moves an issued token to spent
func (t *Tx) SpendOVT(id string) error {
	return t.setOVTStatus(id, models.OVTSpent)
}

// ExpireOVT moves an issued token to expired
func (t *Tx) ExpireOVT(id string) error {
	return t.setOVTStatus(id, models.OVTExpired)
}

func (t *Tx) setOVTStatus(id string, to models.OVTStatus) error {
	if !models.OVTIssued.CanTransition(to) {
		return fmt.Errorf("invalid token transition to %s", to)
	}
	res := t.db.Model(&models.OVT{}).
		Where("ovt_uuid = ? AND status = ?", id, models.OVTIssued).
		Update("status", to)
	if res.Error != nil {
		return fmt.Errorf("failed to update token: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return models.ErrStateConflict
	}
	return nil
}

func (t *Tx) GetVote(voteID string) (*models.EncryptedVote, error) {
	var v models.EncryptedVote
	if err := t.db.Where("vote_id = ?", voteID).First(&v).Error; err != nil {
		return nil, notFound(err, "vote", voteID)
	}
	return &v, nil
}

// InsertVote stores an encrypted ballot. A unique violation is a conflict the
// caller may retry.
func (t *Tx) InsertVote(v *models.EncryptedVote) error {
	if err := t.db.Create(v).Error; err != nil {
		if isDuplicate(err) {
			return conflict(err)
		}
		return fmt.Errorf("failed to insert vote: %w", err)
	}
	return nil
}

func (t *Tx) SetReceiptSig(voteID, sig string) error {
	return t.db.Model(&models.EncryptedVote{}).
		Where("vote_id = ?", voteID).
		Update("receipt_sig", sig).Error
}

func (t *Tx) ListVotes(electionID string) ([]models.EncryptedVote, error) {
	var votes []models.EncryptedVote
	err := t.db.Where("election_id = ?", electionID).Order("ledger_index").Find(&votes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	return votes, nil
}

// LastBlock returns the head of an election's ledger, or nil when empty
func (t *Tx) LastBlock(electionID string) (*models.LedgerBlock, error) {
	var b models.LedgerBlock
	err := t.db.Where("election_id = ?", electionID).Order("ledger_index DESC").First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger head: %w", err)
	}
	return &b, nil
}

// InsertBlock persists a block; a taken (election, index) is a conflict
func (t *Tx) InsertBlock(b *models.LedgerBlock) error {
	if err := t.db.Create(b).Error; err != nil {
		if isDuplicate(err) {
			return conflict(err)
		}
		return fmt.Errorf("failed to insert block: %w", err)
	}
	return nil
}

func (t *Tx) ListBlocks(electionID string) ([]models.LedgerBlock, error) {
	var blocks []models.LedgerBlock
	err := t.db.Where("election_id = ?", electionID).Order("ledger_index").Find(&blocks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list blocks: %w", err)
	}
	return blocks, nil
}

// AppendAuditEvent inserts an audit row inside this transaction
func (t *Tx) AppendAuditEvent(ctx context.Context, ev *models.AuditEvent) error {
	if err := t.db.WithContext(ctx).Create(ev).Error; err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// AppendAuditEvent inserts an audit row in its own statement, for events
// recorded on failure paths where no transaction commits
func (s *Store) AppendAuditEvent(ctx context.Context, ev *models.AuditEvent) error {
	return translate(ctx, s.reader(ctx).AppendAuditEvent(ctx, ev))
}
