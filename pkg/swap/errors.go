package swap

import "errors"

// Validation errors: rejected before any state change.
var (
	ErrInvalidPath                = errors.New("swap: maker sell token and maker buy token are the same")
	ErrMakerSellTokenAmountIsZero = errors.New("swap: maker sell token amount is zero")
	ErrMakerBuyTokenAmountIsZero  = errors.New("swap: maker buy token amount is zero")
	ErrOrderExpired               = errors.New("swap: order deadline has passed")
)

// Authorization errors.
var (
	ErrNotAnOwner          = errors.New("swap: caller is not the owner")
	ErrYouAreNotARecipient = errors.New("swap: caller is not the designated recipient")
)

// Registry and replay errors.
var (
	ErrOrderAlreadyExists   = errors.New("swap: live order with the same hash already exists")
	ErrOrderDoesNotExist    = errors.New("swap: order does not exist")
	ErrOrderAlreadyExecuted = errors.New("swap: private order has already been executed or invalidated")
	ErrInvalidOrderHash     = errors.New("swap: supplied hash does not match the order contents")
	ErrInvalidSignature     = errors.New("swap: signature does not recover to the order maker")
)

// Economic-invariant violations: rejected before any transfer.
var (
	ErrAmountInExceededLimit         = errors.New("swap: amount in would fully consume the order, use the full-fill path")
	ErrTransferFeeTokensNotSupported = errors.New("swap: received amount differs from requested amount, fee-on-transfer tokens are not supported")
	ErrWithdrawalViolatesFullBacking = errors.New("swap: withdrawal would violate the full backing requirement")
	ErrInsufficientOutputAmount      = errors.New("swap: output amount is below the requested minimum")
)

// Pipeline and policy errors.
var (
	ErrTokenAddressChangeNotAllowed = errors.New("swap: plugin attempted to change a token address")
	ErrTokenNotWhitelisted          = errors.New("swap: token is not whitelisted")
)

// Concurrency errors.
var (
	ErrReentrantCall = errors.New("swap: reentrant call into the settlement core")
)
