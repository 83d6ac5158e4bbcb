package ledger

import "errors"

var (
	ErrUnknownBundle         = errors.New("unknown tracklist")
	ErrFreeBundleNotCartable = errors.New("free tracklists cannot be added to cart")
	ErrCartFull              = errors.New("cart full")
	ErrCartWouldExceedLimit  = errors.New("cart would exceed limit")
	ErrPaymentRequired       = errors.New("tracklist requires payment")
)
