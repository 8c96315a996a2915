package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sruthiidv/BallotGuard-sub000/audit"
	"github.com/sruthiidv/BallotGuard-sub000/blockchain/ledger"
	"github.com/sruthiidv/BallotGuard-sub000/encryption"
	"github.com/sruthiidv/BallotGuard-sub000/keystore"
	"github.com/sruthiidv/BallotGuard-sub000/models"
	"github.com/sruthiidv/BallotGuard-sub000/storage"
)

// Config holds the security parameters of the core. They are fixed at
// startup and never tunable per request.
type Config struct {
	FaceThreshold   float64
	FailureWindow   time.Duration
	MaxFailures     int
	LockoutDuration time.Duration
	OVTTTL          time.Duration
	RequestTimeout  time.Duration
	AuthFreshness   time.Duration
	RequireFaceAuth bool
}

func DefaultConfig() Config {
	return Config{
		FaceThreshold:   0.5,
		FailureWindow:   60 * time.Second,
		MaxFailures:     3,
		LockoutDuration: 15 * time.Minute,
		OVTTTL:          300 * time.Second,
		RequestTimeout:  5 * time.Second,
		AuthFreshness:   5 * time.Minute,
		RequireFaceAuth: true,
	}
}

type VotingService struct {
	store   *storage.Store
	keys    *keystore.KeyStore
	ledger  *ledger.Ledger
	audit   *audit.Logger
	matcher *FaceMatcher
	metrics *MetricsCollector
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time

	// beforeMarkVoted runs inside the cast transaction after the ballot and
	// its block are written
	beforeMarkVoted func(*storage.Tx) error
}

type options struct {
	logger       *slog.Logger
	promRegistry prometheus.Registerer
	now          func() time.Time
	clock        mclock.Clock
	comparator   Comparator
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithPromRegistry(reg prometheus.Registerer) Option {
	return func(o *options) { o.promRegistry = reg }
}

// WithClock sets the wall clock used for token validity and timestamps
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMonotonicClock sets the clock driving face verification lockouts
func WithMonotonicClock(clock mclock.Clock) Option {
	return func(o *options) { o.clock = clock }
}

func WithComparator(c Comparator) Option {
	return func(o *options) { o.comparator = c }
}

func NewVotingService(store *storage.Store, keys *keystore.KeyStore, cfg Config, opts ...Option) *VotingService {
	o := options{
		now:        time.Now,
		clock:      mclock.System{},
		comparator: EuclideanDistance,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	now := func() time.Time {
		return o.now().UTC().Truncate(time.Microsecond)
	}
	return &VotingService{
		store:   store,
		keys:    keys,
		ledger:  ledger.New(keys, o.logger, now),
		audit:   audit.New(o.logger, o.promRegistry),
		matcher: NewFaceMatcher(cfg, o.clock, o.comparator),
		metrics: NewMetricsCollector(o.promRegistry),
		logger:  o.logger,
		cfg:     cfg,
		now:     now,
	}
}

func (vs *VotingService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if vs.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, vs.cfg.RequestTimeout)
}

// transact runs fn in one store transaction. Audit events fn writes are
// counted and logged only after the commit.
func (vs *VotingService) transact(ctx context.Context, fn func(tx *storage.Tx, events *audit.Batch) error) error {
	events := vs.audit.Batch()
	err := vs.store.Transaction(ctx, func(tx *storage.Tx) error {
		return fn(tx, events)
	})
	if err != nil {
		return err
	}
	events.Emit()
	return nil
}

func (vs *VotingService) PublicParameters() keystore.PublicParameters {
	return vs.keys.PublicParameters()
}

// coreError converts crypto and context failures into core error kinds.
// Errors that already carry a kind pass through unchanged.
func coreError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := models.AsError(err); ok {
		return err
	}
	var cerr *encryption.CryptoError
	if errors.As(err, &cerr) {
		return models.WrapError(models.KindCrypto, models.CodeCryptoError, "cryptographic failure", err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.Timeout(err)
	}
	return models.StorageError(err)
}

type EncryptedBallot struct {
	Ciphertext string `json:"ciphertext"`
	ClientHash string `json:"client_hash,omitempty"`
}

type OVTRef struct {
	OvtUUID string `json:"ovt_uuid"`
}

type CastVoteRequest struct {
	VoteID        string          `json:"vote_id"`
	ElectionID    string          `json:"election_id"`
	CandidateID   string          `json:"candidate_id"`
	EncryptedVote EncryptedBallot `json:"encrypted_vote"`
	OVT           OVTRef          `json:"ovt"`
}

func (r *CastVoteRequest) validate() error {
	switch {
	case r.VoteID == "":
		return models.Validation("vote_id is required")
	case r.ElectionID == "":
		return models.Validation("election_id is required")
	case r.CandidateID == "":
		return models.Validation("candidate_id is required")
	case r.EncryptedVote.Ciphertext == "":
		return models.InvalidVote("ciphertext is required")
	case r.OVT.OvtUUID == "":
		return models.NewError(models.KindOvtInvalid, models.CodeOvtNotFound, "ovt_uuid is required")
	}
	return nil
}

// matches reports whether a stored ballot came from an identical request
func (r *CastVoteRequest) matches(v *models.EncryptedVote) bool {
	return v.ElectionID == r.ElectionID &&
		v.CandidateID == r.CandidateID &&
		v.Ciphertext == r.EncryptedVote.Ciphertext &&
		v.ClientHash == r.EncryptedVote.ClientHash &&
		v.OvtUUID == r.OVT.OvtUUID
}

type CastVoteResponse struct {
	LedgerIndex uint64         `json:"ledger_index"`
	BlockHash   string         `json:"block_hash"`
	Receipt     models.Receipt `json:"receipt"`
}

// CastVote accepts one encrypted ballot. The token spend, ballot row, ledger
// block and voted flag commit together or not at all. The receipt is signed
// only after commit. Re-posting an identical request returns the original
// receipt without touching state.
func (vs *VotingService) CastVote(ctx context.Context, req *CastVoteRequest) (*CastVoteResponse, error) {
	start := time.Now()
	ctx, cancel := vs.withTimeout(ctx)
	defer cancel()

	resp, replay, err := vs.castVote(ctx, req)
	if err != nil {
		if e, ok := models.AsError(err); ok {
			vs.metrics.RecordRejection(e.Code)
		}
		vs.logger.Info(
			"ballot rejected",
			"component", "intake",
			"vote_id", req.VoteID,
			"election_id", req.ElectionID,
			"error", err,
		)
		return nil, err
	}
	if !replay {
		vs.metrics.RecordVote(time.Since(start))
	}
	return resp, nil
}

// castVote reports whether the response replays an already committed ballot
func (vs *VotingService) castVote(ctx context.Context, req *CastVoteRequest) (*CastVoteResponse, bool, error) {
	if err := req.validate(); err != nil {
		return nil, false, err
	}

	var (
		vote   *models.EncryptedVote
		replay bool
		err    error
	)
	// A ledger index or unique key race aborts the transaction; retry once
	for attempt := 0; attempt < 2; attempt++ {
		vote, replay, err = vs.castOnce(ctx, req)
		if !errors.Is(err, models.ErrStateConflict) {
			break
		}
		vs.logger.Warn(
			"cast transaction conflicted",
			"component", "intake",
			"vote_id", req.VoteID,
			"attempt", attempt+1,
		)
	}
	if err != nil {
		if errors.Is(err, models.ErrOvtExpired) {
			vs.expireToken(ctx, req.OVT.OvtUUID)
		}
		return nil, false, err
	}

	if replay && vote.ReceiptSig != "" {
		return receiptResponse(vote), true, nil
	}
	sig, err := vs.keys.SignCanonical(vote.ReceiptPayload())
	if err != nil {
		return nil, false, coreError(err)
	}
	vote.ReceiptSig = sig
	err = vs.store.Transaction(ctx, func(tx *storage.Tx) error {
		return tx.SetReceiptSig(vote.VoteID, sig)
	})
	if err != nil {
		// The ballot is committed; a replay signs again
		vs.logger.Warn(
			"failed to persist receipt signature",
			"component", "intake",
			"vote_id", vote.VoteID,
			"error", err,
		)
	}
	if !replay {
		vs.logger.Info(
			"ballot accepted",
			"component", "intake",
			"vote_id", vote.VoteID,
			"election_id", vote.ElectionID,
			"ledger_index", vote.LedgerIndex,
		)
	}
	return receiptResponse(vote), replay, nil
}

func receiptResponse(v *models.EncryptedVote) *CastVoteResponse {
	return &CastVoteResponse{
		LedgerIndex: v.LedgerIndex,
		BlockHash:   v.BlockHash,
		Receipt: models.Receipt{
			ReceiptPayload: v.ReceiptPayload(),
			Sig:            v.ReceiptSig,
		},
	}
}

func (vs *VotingService) castOnce(ctx context.Context, req *CastVoteRequest) (*models.EncryptedVote, bool, error) {
	var (
		vote   *models.EncryptedVote
		replay bool
	)
	err := vs.transact(ctx, func(tx *storage.Tx, events *audit.Batch) error {
		now := vs.now()

		// Idempotency on vote_id
		prior, err := tx.GetVote(req.VoteID)
		switch {
		case err == nil:
			if !req.matches(prior) {
				return models.NewError(models.KindStateConflict, models.CodeDuplicateVoteID,
					"vote_id already used for a different ballot")
			}
			vote, replay = prior, true
			return nil
		case !errors.Is(err, models.ErrNotFound):
			return err
		}

		election, err := tx.GetElection(req.ElectionID)
		if err != nil {
			return err
		}
		if election.Status != models.ElectionOpen {
			return models.ErrElectionNotOpen
		}

		token, err := vs.validateOVT(tx, req.OVT.OvtUUID, req.ElectionID, now)
		if err != nil {
			return err
		}

		// The voter comes from the token, never from the request
		ves, err := tx.GetVoterStatus(req.ElectionID, token.VoterID)
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotEligible
		}
		if err != nil {
			return err
		}
		if ves.Status != models.EligibilityActive {
			return models.ErrNotEligible
		}
		voter, err := tx.GetVoter(token.VoterID)
		if err != nil {
			return err
		}
		if voter.Status == models.VoterBlocked {
			return models.ErrNotEligible
		}
		if ves.Voted {
			return models.ErrAlreadyVoted
		}

		if err := vs.validateBallot(election, req); err != nil {
			return err
		}

		block, err := vs.ledger.Append(tx, election.ID, req.EncryptedVote.Ciphertext, election.Salt)
		if err != nil {
			return coreError(err)
		}
		vote = &models.EncryptedVote{
			VoteID:      req.VoteID,
			ElectionID:  election.ID,
			VoterID:     token.VoterID,
			CandidateID: req.CandidateID,
			Ciphertext:  req.EncryptedVote.Ciphertext,
			ClientHash:  req.EncryptedVote.ClientHash,
			OvtUUID:     token.UUID,
			LedgerIndex: block.Index,
			BlockHash:   block.Hash,
		}
		if err := tx.InsertVote(vote); err != nil {
			return err
		}
		if vs.beforeMarkVoted != nil {
			if err := vs.beforeMarkVoted(tx); err != nil {
				return err
			}
		}
		if err := tx.MarkVoted(election.ID, token.VoterID); err != nil {
			return err
		}
		if err := tx.SpendOVT(token.UUID); err != nil {
			return err
		}
		if err := events.Log(ctx, tx, audit.Entry{
			Kind:       models.AuditOVTSpent,
			ElectionID: election.ID,
			Detail:     "ovt " + token.UUID,
			Success:    true,
		}); err != nil {
			return err
		}
		return events.Log(ctx, tx, audit.Entry{
			Kind:       models.AuditVoteCast,
			ElectionID: election.ID,
			Detail:     "vote " + vote.VoteID + " at ledger index " + formatIndex(block.Index),
			Success:    true,
		})
	})
	if err != nil {
		return nil, false, coreError(err)
	}
	return vote, replay, nil
}

// validateBallot checks the ciphertext is a Paillier ciphertext under the
// election key and the candidate belongs to the election
func (vs *VotingService) validateBallot(election *models.Election, req *CastVoteRequest) error {
	if !election.HasCandidate(req.CandidateID) {
		return models.InvalidVote("unknown candidate " + req.CandidateID)
	}
	c, err := encryption.ParseCiphertext(req.EncryptedVote.Ciphertext)
	if err != nil {
		return models.InvalidVote("ciphertext is not a decimal integer")
	}
	if err := vs.keys.Paillier().ValidCiphertext(c); err != nil {
		return models.InvalidVote("ciphertext is not valid under the election key")
	}
	return nil
}
