package tracker

import "errors"

var (
	// ErrInvalidSide is returned when a trade side is neither BUY nor SELL
	ErrInvalidSide = errors.New("side must be BUY or SELL")
	// ErrInvalidQuantity is returned when a trade quantity is not positive
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	// ErrInvalidPrice is returned when a trade price is not a finite number
	ErrInvalidPrice = errors.New("price must be a finite number")
	// ErrOverSell is returned when a SELL exceeds the open quantity of a contract
	ErrOverSell = errors.New("attempting to sell more than open quantity")
)
