// Package funds implements the balance the release ledger pays out of.
package funds

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount is returned for zero credits and debits.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrBalanceOverflow is returned when a credit would overflow 256 bits.
	ErrBalanceOverflow = errors.New("balance overflow")
)

// Account tracks the releasable balance and the cumulative amount released.
// Balance only grows through Credit and only shrinks through Debit;
// TotalReleased only grows, by exactly each debited amount.
type Account struct {
	Balance       *uint256.Int
	TotalReleased *uint256.Int
}

// NewAccount returns an empty account.
func NewAccount() *Account {
	return &Account{
		Balance:       new(uint256.Int),
		TotalReleased: new(uint256.Int),
	}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	cp := NewAccount()
	if a.Balance != nil {
		cp.Balance.Set(a.Balance)
	}
	if a.TotalReleased != nil {
		cp.TotalReleased.Set(a.TotalReleased)
	}
	return cp
}

// Credit adds value to the balance.
func (a *Account) Credit(value *uint256.Int) error {
	if value == nil || value.IsZero() {
		return ErrInvalidAmount
	}
	a.ensure()

	next, overflow := new(uint256.Int).AddOverflow(a.Balance, value)
	if overflow {
		return ErrBalanceOverflow
	}
	a.Balance = next
	return nil
}

// Debit removes value from the balance and records it as released.
// On error the account is unchanged.
func (a *Account) Debit(value *uint256.Int) error {
	if value == nil || value.IsZero() {
		return ErrInvalidAmount
	}
	a.ensure()

	if a.Balance.Lt(value) {
		return fmt.Errorf("%w: balance %s, required %s", ErrInsufficientFunds, a.Balance.Dec(), value.Dec())
	}
	released, overflow := new(uint256.Int).AddOverflow(a.TotalReleased, value)
	if overflow {
		return ErrBalanceOverflow
	}

	a.Balance = new(uint256.Int).Sub(a.Balance, value)
	a.TotalReleased = released
	return nil
}

func (a *Account) ensure() {
	if a.Balance == nil {
		a.Balance = new(uint256.Int)
	}
	if a.TotalReleased == nil {
		a.TotalReleased = new(uint256.Int)
	}
}

type accountJSON struct {
	Balance       string `json:"balance"`
	TotalReleased string `json:"totalReleased"`
}

func (a Account) MarshalJSON() ([]byte, error) {
	out := accountJSON{Balance: "0", TotalReleased: "0"}
	if a.Balance != nil {
		out.Balance = a.Balance.Dec()
	}
	if a.TotalReleased != nil {
		out.TotalReleased = a.TotalReleased.Dec()
	}
	return json.Marshal(out)
}

func (a *Account) UnmarshalJSON(data []byte) error {
	var in accountJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	balance, err := uint256.FromDecimal(in.Balance)
	if err != nil {
		return fmt.Errorf("invalid balance %q: %w", in.Balance, err)
	}
	released, err := uint256.FromDecimal(in.TotalReleased)
	if err != nil {
		return fmt.Errorf("invalid total released %q: %w", in.TotalReleased, err)
	}
	a.Balance = balance
	a.TotalReleased = released
	return nil
}
