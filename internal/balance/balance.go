// Package balance holds the coin rules: the once-per-day credit and signed
// adjustments. Functions here mutate an *model.Account in memory only; the
// service layer is responsible for serializing callers and persisting.
package balance

import (
	"time"

	"github.com/sakif/discord-lookup/internal/apperror"
	"github.com/sakif/discord-lookup/internal/model"
)

const (
	// DailyCredit is granted on the first balance check of each calendar day.
	DailyCredit = 10
	// MaxAccruedBalance is the ceiling applied on every daily credit.
	// Admin credits may exceed it until the next new-day accrual.
	MaxAccruedBalance = 20
)

// SameDay compares calendar dates of a and b in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// Accrue grants the daily credit when acct has not been credited yet on
// now's calendar day in loc. It reports whether acct changed.
//
// The new balance is min(balance+DailyCredit, MaxAccruedBalance), so a
// balance above the cap is brought down to it. Calling it again on the
// same day is a no-op.
func Accrue(acct *model.Account, now time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	if acct.LastBalanceUpdate != nil && SameDay(*acct.LastBalanceUpdate, now, loc) {
		return false
	}

	acct.Balance = min(acct.Balance+DailyCredit, MaxAccruedBalance)

	stamp := now
	acct.LastBalanceUpdate = &stamp
	return true
}

// Adjust applies a signed delta. Any change that would leave the balance
// below zero is rejected before acct is touched, for spends and admin
// debits alike. Credits have no upper bound.
func Adjust(acct *model.Account, delta int) error {
	if acct.Balance+delta < 0 {
		return apperror.InsufficientBalance(acct.Balance, delta)
	}
	acct.Balance += delta
	return nil
}
