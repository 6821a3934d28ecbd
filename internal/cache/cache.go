// Package cache holds the last-known account snapshot used to decide whether
// a sync run has anything worth notifying about.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrCacheIO is returned (wrapped) when the persisted cache cannot be read or written.
var ErrCacheIO = errors.New("cache i/o")

// AccountSnapshot is the cached view of a single account.
type AccountSnapshot struct {
	AccountID        string          `json:"account_id"`
	Balance          decimal.Decimal `json:"balance"`
	BalanceTimestamp int64           `json:"balance_date"`
}

// Cache is the single persisted record: every tracked account plus the time of the
// last notification that was actually delivered.
type Cache struct {
	Accounts                   map[string]AccountSnapshot `json:"accounts,omitempty"`
	LastSuccessfulNotification *int64                     `json:"last_successful_message,omitempty"`
}

// Store loads and saves the cache record.
type Store interface {
	Load(ctx context.Context) (Cache, error)
	Save(ctx context.Context, c Cache) error
}

// Clone returns a deep copy so callers never share the account map.
func (c Cache) Clone() Cache {
	out := Cache{Accounts: make(map[string]AccountSnapshot, len(c.Accounts))}
	for k, v := range c.Accounts {
		out.Accounts[k] = v
	}
	if c.LastSuccessfulNotification != nil {
		ts := *c.LastSuccessfulNotification
		out.LastSuccessfulNotification = &ts
	}
	return out
}

// LastNotification returns the last delivered notification time, if any.
func (c Cache) LastNotification() (time.Time, bool) {
	if c.LastSuccessfulNotification == nil {
		return time.Time{}, false
	}
	return time.Unix(*c.LastSuccessfulNotification, 0), true
}

// WithNotification returns a copy of c carrying the given accounts and notification time.
func (c Cache) WithNotification(accounts map[string]AccountSnapshot, at time.Time) Cache {
	out := Cache{Accounts: accounts}.Clone()
	ts := at.Unix()
	out.LastSuccessfulNotification = &ts
	return out
}
