package solvency

import (
	"errors"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/pricing"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/protocols/oracle"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/wad"
)

// Kind classifies every error a pool operation can return.
type Kind uint8

const (
	// KindUnknown is reported for errors raised by collaborators (custody,
	// context cancellation) that the pool passes through unchanged.
	KindUnknown Kind = iota
	KindValidation
	KindSolvency
	KindPrice
	KindArithmetic
	// KindInternal marks a broken engine invariant. It is never caused by
	// caller input and must not be retried.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindSolvency:
		return "solvency"
	case KindPrice:
		return "price"
	case KindArithmetic:
		return "arithmetic"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a pool sentinel tagged with its Kind. Callers match sentinels with
// errors.Is and classify arbitrary errors with KindOf.
type Error struct {
	Kind Kind
	msg  string
}

func (e *Error) Error() string { return "solvency: " + e.msg }

func newError(kind Kind, msg string) *Error { return &Error{Kind: kind, msg: msg} }

var (
	ErrZeroAddress   = newError(KindValidation, "zero address")
	ErrSameToken     = newError(KindValidation, "tokens must differ")
	ErrZeroAmount    = newError(KindValidation, "amount must be positive")
	ErrExpired       = newError(KindValidation, "deadline expired")
	ErrUnknownAsset  = newError(KindValidation, "asset not registered")
	ErrAssetExists   = newError(KindValidation, "asset already registered")
	ErrGroupMismatch = newError(KindValidation, "assets are not in the same aggregate group")
	ErrInvalidParams = newError(KindValidation, "invalid pool parameters")
	ErrInvalidAsset  = newError(KindValidation, "invalid asset config")
	ErrReentrant     = newError(KindValidation, "reentrant call")

	ErrCoverageTooLow        = newError(KindSolvency, "coverage ratio below threshold")
	ErrCoverageTooHigh       = newError(KindSolvency, "coverage ratio too high")
	ErrInsufficientCash      = newError(KindSolvency, "insufficient cash")
	ErrInsufficientLiability = newError(KindSolvency, "insufficient liability")
	ErrInsufficientLiquidity = newError(KindSolvency, "insufficient liquidity")
	ErrMaxSupplyExceeded     = newError(KindSolvency, "max supply exceeded")
	ErrSlippage              = newError(KindSolvency, "amount below minimum")
	ErrDustAmount            = newError(KindSolvency, "dust amount")

	ErrPriceZero        = newError(KindPrice, "price is zero")
	ErrPriceUnavailable = newError(KindPrice, "price unavailable")
)

// KindOf classifies err. Pool sentinels carry their own kind; errors from the
// wad, pricing and oracle packages are mapped onto the same taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, pricing.ErrFeeInvariant):
		return KindInternal
	case errors.Is(err, pricing.ErrPriceZero),
		errors.Is(err, oracle.ErrNoPrice),
		errors.Is(err, oracle.ErrStalePrice),
		errors.Is(err, oracle.ErrInvalidPrice):
		return KindPrice
	case errors.Is(err, pricing.ErrLiabilityZero),
		errors.Is(err, pricing.ErrTotalSupplyZero),
		errors.Is(err, pricing.ErrRThresholdZero),
		errors.Is(err, pricing.ErrRatioZero),
		errors.Is(err, wad.ErrOverflow),
		errors.Is(err, wad.ErrUnderflow),
		errors.Is(err, wad.ErrDivisionByZero),
		errors.Is(err, wad.ErrDecimals),
		errors.Is(err, wad.ErrRootDegree):
		return KindArithmetic
	}
	return KindUnknown
}
