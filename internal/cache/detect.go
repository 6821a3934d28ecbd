package cache

// Detection is the outcome of comparing fetched accounts against the cache.
type Detection struct {
	Changed bool
	// ChangedIDs lists changed accounts in fetch order.
	ChangedIDs []string
	// Updated is the full account map to persist: previous entries carried
	// forward, overwritten by every fetched account.
	Updated map[string]AccountSnapshot
}

// Detect reports which fetched accounts are new or carry a different balance
// timestamp than the cached one. A balance change with an unchanged timestamp
// is not a change.
func Detect(previous Cache, current []AccountSnapshot) Detection {
	d := Detection{Updated: make(map[string]AccountSnapshot, len(previous.Accounts)+len(current))}
	for id, snap := range previous.Accounts {
		d.Updated[id] = snap
	}
	for _, snap := range current {
		cached, ok := previous.Accounts[snap.AccountID]
		if !ok || cached.BalanceTimestamp != snap.BalanceTimestamp {
			d.Changed = true
			d.ChangedIDs = append(d.ChangedIDs, snap.AccountID)
		}
		d.Updated[snap.AccountID] = snap
	}
	return d
}
