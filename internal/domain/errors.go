package domain

import (
	"errors"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors — compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Market lifecycle errors
var (
	// ErrMarketNotFound is returned when no market matches the given id.
	ErrMarketNotFound = errors.New("market not found")

	// ErrMarketExists is returned when initializing a market whose id is taken.
	ErrMarketExists = errors.New("market already exists")

	// ErrMarketEnded is returned when an action requires an open betting
	// window but the market's end time has passed (or, at creation, when the
	// requested end time is not in the future).
	ErrMarketEnded = errors.New("market has already ended")

	// ErrMarketNotEnded is returned when resolution is attempted before the
	// betting window closes.
	ErrMarketNotEnded = errors.New("market has not ended yet")

	// ErrMarketNotResolved is returned when a claim is attempted before a
	// Resolution record exists.
	ErrMarketNotResolved = errors.New("market is not resolved")

	// ErrMarketAlreadyResolved is returned on any attempt to resolve a market
	// twice; Resolution existence is the terminal-state lock.
	ErrMarketAlreadyResolved = errors.New("market is already resolved")

	// ErrQuestionTooLong is returned when a market question exceeds
	// MaxQuestionBytes.
	ErrQuestionTooLong = errors.New("market question exceeds 200 bytes")
)

// Bet errors
var (
	// ErrBetNotFound is returned when no bet matches the given ids.
	ErrBetNotFound = errors.New("bet not found")

	// ErrBetAlreadyClaimed is returned on a second claim of the same bet.
	ErrBetAlreadyClaimed = errors.New("bet has already been claimed")

	// ErrInvalidBetAmount is reported (via an aborted computation) when the
	// decrypted bet amount is zero.
	ErrInvalidBetAmount = errors.New("invalid bet amount")

	// ErrInvalidPrediction is returned when an outcome or prediction value is
	// outside {0, 1}.
	ErrInvalidPrediction = errors.New("invalid prediction value")
)

// Computation / protocol errors
var (
	// ErrAbortedComputation is returned when the compute cluster reports a
	// failed computation. Terminal: no partial state is ever persisted.
	ErrAbortedComputation = errors.New("computation aborted")

	// ErrInvalidEncryptedData is returned for malformed or short encrypted
	// payloads (receipts, resolution data, ciphertext sizes).
	ErrInvalidEncryptedData = errors.New("invalid encrypted data")

	// ErrDuplicateComputation is returned when a correlation id is reused
	// while a computation with that id is still in flight.
	ErrDuplicateComputation = errors.New("duplicate computation id")

	// ErrUnknownComputation is returned when a callback arrives with no
	// matching outstanding request.
	ErrUnknownComputation = errors.New("unknown computation id")

	// ErrCounterOverflow is returned when checked counter or payout
	// arithmetic would wrap. Fatal for the instruction that hit it.
	ErrCounterOverflow = errors.New("counter overflow")
)

// Auth errors
var (
	// ErrUnauthorized is returned when the caller is not the recorded owner
	// (market creator for resolution, bettor for claims) or carries no valid
	// identity token.
	ErrUnauthorized = errors.New("unauthorized")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// notFoundErrors collects the "record not found" sentinels so IsNotFound
// stays in sync automatically.
var notFoundErrors = []error{
	ErrMarketNotFound,
	ErrBetNotFound,
	ErrUnknownComputation,
}

// IsNotFound returns true when err (or any error in its chain) is one of the
// "record not found" errors. Use this instead of comparing error values
// directly when translating to HTTP 404 responses.
func IsNotFound(err error) bool {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict returns true for errors that represent a state conflict
// (double-resolution, double-claim, duplicate ids, closed windows).
func IsConflict(err error) bool {
	conflictErrors := []error{
		ErrMarketExists,
		ErrMarketEnded,
		ErrMarketNotEnded,
		ErrMarketAlreadyResolved,
		ErrMarketNotResolved,
		ErrBetAlreadyClaimed,
		ErrDuplicateComputation,
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
