package credit

import "errors"

var (
	// ErrInsufficientCredits is returned when the balance cannot cover a charge
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrNoAccount is returned when no authenticated account was supplied
	ErrNoAccount = errors.New("no authenticated account")

	// ErrInvalidAmount is returned when amount is <= 0
	ErrInvalidAmount = errors.New("invalid amount: must be greater than 0")

	ErrInvalidCategory = errors.New("invalid credit category")

	// ErrAccountNotFound is returned by stores for unknown accounts
	ErrAccountNotFound = errors.New("account not found")

	// ErrPersistence is returned when a store write failed after the cached balance moved
	ErrPersistence = errors.New("credit persistence failed")

	ErrPackageNotFound = errors.New("credit package not found")
)
