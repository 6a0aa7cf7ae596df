// Package ledger provides the stake escrow primitive. Every movement of
// collateral between wallets, node escrows and round pools goes through
// Transfer, so conservation only has to be proven here.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/cometbft/cometbft/crypto"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOverflow          = errors.New("balance overflow")
	ErrSelfTransfer      = errors.New("transfer to same account")
	ErrInvalidAccount    = errors.New("invalid account")
)

// Account identifies a balance. Accounts are namespaced by kind so that a
// wallet and an escrow never collide even if the addresses do.
type Account string

const (
	kindWallet = "wallet"
	kindEscrow = "escrow"
	kindPool   = "pool"
)

// Wallet is the free balance of an identity.
func Wallet(owner crypto.Address) Account { return newAccount(kindWallet, owner) }

// Escrow is the collateral a node has locked in its round.
func Escrow(node crypto.Address) Account { return newAccount(kindEscrow, node) }

// Pool holds forfeited stake of a round until settlement.
func Pool(round crypto.Address) Account { return newAccount(kindPool, round) }

func newAccount(kind string, addr crypto.Address) Account {
	return Account(kind + "/" + addr.String())
}

// Kind returns the namespace part of the account ("wallet", "escrow", "pool").
func (a Account) Kind() string {
	kind, _, _ := strings.Cut(string(a), "/")
	return kind
}

func (a Account) String() string { return string(a) }

// Balances is the storage view the ledger operates on. Implementations are
// expected to buffer writes until their enclosing transaction commits.
type Balances interface {
	Balance(acct Account) (uint64, error)
	SetBalance(acct Account, amount uint64) error
}

// Transfer moves amount from one account to another. Both balances are read
// and validated before either is written, so a rejected transfer leaves the
// view untouched. A write error leaves it half applied; the enclosing
// transaction must then be discarded.
func Transfer(b Balances, from, to Account, amount uint64) error {
	if from == "" || to == "" {
		return ErrInvalidAccount
	}
	if amount == 0 {
		return nil
	}
	if from == to {
		return fmt.Errorf("%s: %w", from, ErrSelfTransfer)
	}
	fromBal, err := b.Balance(from)
	if err != nil {
		return fmt.Errorf("read %s: %w", from, err)
	}
	if fromBal < amount {
		return fmt.Errorf("%s has %d, needs %d: %w", from, fromBal, amount, ErrInsufficientFunds)
	}
	toBal, err := b.Balance(to)
	if err != nil {
		return fmt.Errorf("read %s: %w", to, err)
	}
	if toBal > math.MaxUint64-amount {
		return fmt.Errorf("%s: %w", to, ErrOverflow)
	}
	if err := b.SetBalance(from, fromBal-amount); err != nil {
		return fmt.Errorf("debit %s: %w", from, err)
	}
	if err := b.SetBalance(to, toBal+amount); err != nil {
		return fmt.Errorf("credit %s: %w", to, err)
	}
	return nil
}

// Deposit credits an account with value entering the system from outside.
func Deposit(b Balances, to Account, amount uint64) error {
	if to == "" {
		return ErrInvalidAccount
	}
	bal, err := b.Balance(to)
	if err != nil {
		return fmt.Errorf("read %s: %w", to, err)
	}
	if bal > math.MaxUint64-amount {
		return fmt.Errorf("%s: %w", to, ErrOverflow)
	}
	return b.SetBalance(to, bal+amount)
}

// Total sums the balances of the given accounts.
func Total(b Balances, accounts ...Account) (uint64, error) {
	var sum uint64
	for _, acct := range accounts {
		bal, err := b.Balance(acct)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", acct, err)
		}
		if sum > math.MaxUint64-bal {
			return 0, ErrOverflow
		}
		sum += bal
	}
	return sum, nil
}

// MapBalances is an in-memory Balances, used by tests and for dry runs.
type MapBalances map[Account]uint64

func (m MapBalances) Balance(acct Account) (uint64, error) { return m[acct], nil }

func (m MapBalances) SetBalance(acct Account, amount uint64) error {
	if amount == 0 {
		delete(m, acct)
		return nil
	}
	m[acct] = amount
	return nil
}
