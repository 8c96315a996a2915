package models

import (
	"errors"
	"fmt"
)

// ErrorKind groups error codes into the classes callers branch on
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindNotFound      ErrorKind = "not_found"
	KindAuthFailed    ErrorKind = "auth_failed"
	KindLocked        ErrorKind = "locked"
	KindNotEligible   ErrorKind = "not_eligible"
	KindAlreadyVoted  ErrorKind = "already_voted"
	KindOvtInvalid    ErrorKind = "ovt_invalid"
	KindStateConflict ErrorKind = "state_conflict"
	KindCrypto        ErrorKind = "crypto_error"
	KindStorage       ErrorKind = "storage_error"
	KindTimeout       ErrorKind = "timeout"
)

// Stable machine codes returned to clients
const (
	CodeValidation          = "VALIDATION"
	CodeNotFound            = "NOT_FOUND"
	CodeBadAction           = "BAD_ACTION"
	CodeBadFaceDim          = "BAD_FACE_DIM"
	CodeAuthRequired        = "AUTH_REQUIRED"
	CodeAccountLocked       = "ACCOUNT_LOCKED"
	CodeNotEligible         = "NOT_ELIGIBLE"
	CodeAlreadyVoted        = "ALREADY_VOTED"
	CodeOvtNotFound         = "OVT_NOT_FOUND"
	CodeOvtSpent            = "OVT_SPENT"
	CodeOvtExpired          = "OVT_EXPIRED"
	CodeOvtRevoked          = "OVT_REVOKED"
	CodeOvtNotYetValid      = "OVT_NOT_YET_VALID"
	CodeOvtElectionMismatch = "OVT_ELECTION_MISMATCH"
	CodeInvalidVote         = "INVALID_VOTE"
	CodeElectionNotOpen     = "ELECTION_NOT_OPEN"
	CodeNotClosed           = "NOT_CLOSED"
	CodeDuplicateVoteID     = "DUPLICATE_VOTE_ID"
	CodeStateConflict       = "STATE_CONFLICT"
	CodeLedgerTampered      = "LEDGER_TAMPERED"
	CodeTallyInconsistent   = "TALLY_INCONSISTENT"
	CodeCryptoError         = "CRYPTO_ERROR"
	CodeStorageError        = "STORAGE_ERROR"
	CodeTimeout             = "TIMEOUT"
)

// Error is the error type every public core operation returns
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code, so errors.Is(err, ErrAlreadyVoted) works
// regardless of message
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func NewError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func WrapError(kind ErrorKind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Sentinels for errors.Is comparisons
var (
	ErrNotFound            = NewError(KindNotFound, CodeNotFound, "not found")
	ErrAlreadyVoted        = NewError(KindAlreadyVoted, CodeAlreadyVoted, "voter has already voted in this election")
	ErrNotEligible         = NewError(KindNotEligible, CodeNotEligible, "voter is not eligible for this election")
	ErrAccountLocked       = NewError(KindLocked, CodeAccountLocked, "too many failed face verifications")
	ErrBadAction           = NewError(KindStateConflict, CodeBadAction, "transition not allowed")
	ErrOvtNotFound         = NewError(KindOvtInvalid, CodeOvtNotFound, "voting token not found")
	ErrOvtSpent            = NewError(KindOvtInvalid, CodeOvtSpent, "voting token already spent")
	ErrOvtExpired          = NewError(KindOvtInvalid, CodeOvtExpired, "voting token expired")
	ErrOvtRevoked          = NewError(KindOvtInvalid, CodeOvtRevoked, "voting token revoked")
	ErrOvtNotYetValid      = NewError(KindOvtInvalid, CodeOvtNotYetValid, "voting token not yet valid")
	ErrOvtElectionMismatch = NewError(KindOvtInvalid, CodeOvtElectionMismatch, "voting token bound to another election")
	ErrElectionNotOpen     = NewError(KindStateConflict, CodeElectionNotOpen, "election is not open")
	ErrNotClosed           = NewError(KindStateConflict, CodeNotClosed, "election is not closed")
	ErrStateConflict       = NewError(KindStateConflict, CodeStateConflict, "concurrent modification")
	ErrTimeout             = NewError(KindTimeout, CodeTimeout, "request deadline exceeded")
)

// NotFound builds a NOT_FOUND error naming the missing entity
func NotFound(entity, id string) *Error {
	return NewError(KindNotFound, CodeNotFound, fmt.Sprintf("%s %q not found", entity, id))
}

func Validation(message string) *Error {
	return NewError(KindValidation, CodeValidation, message)
}

func InvalidVote(message string) *Error {
	return NewError(KindValidation, CodeInvalidVote, message)
}

func StorageError(err error) *Error {
	return WrapError(KindStorage, CodeStorageError, "storage failure", err)
}

func Timeout(err error) *Error {
	return WrapError(KindTimeout, CodeTimeout, "request deadline exceeded", err)
}

// AsError extracts the *Error carried by err, if any
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
