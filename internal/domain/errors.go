package domain

import "errors"

// Configuration errors are detected once, before any month is simulated.
// They are fatal for the whole run and never retried.
var (
	// ErrInvalidCorrelationMatrix indicates the assembled correlation matrix
	// is not positive definite, so no valid joint Gaussian shock exists.
	ErrInvalidCorrelationMatrix = errors.New("correlation matrix is not positive definite")

	// ErrNoActivePhaseAtStart indicates no lifecycle phase covers the
	// simulation's starting age.
	ErrNoActivePhaseAtStart = errors.New("no lifecycle phase covers the starting age")

	// ErrDanglingProfileReference indicates a phase references a tax,
	// strategy, or allocation profile id that does not exist.
	ErrDanglingProfileReference = errors.New("phase references an unknown profile")
)

// Runtime errors indicate a logically inconsistent order during a month.
// They are fatal to the current trial; other trials in a batch are
// unaffected. There is no silent clamping of invalid sell sizes.
var (
	// ErrInsufficientLotQuantity indicates a sell for more units than are
	// currently held. The order must not partially execute.
	ErrInsufficientLotQuantity = errors.New("sell quantity exceeds held quantity")

	// ErrNoCostBasisAvailable indicates a sell against an asset with no
	// recorded buy lots.
	ErrNoCostBasisAvailable = errors.New("no cost basis available for sale")
)
