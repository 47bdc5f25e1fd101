package oauth

import (
	"sync"
	"time"
)

// CodeLedger is an in-process single-use ledger for authorization codes.
// Codes are self-contained, so nothing else prevents a code from being
// redeemed twice inside its validity window; the ledger closes that gap
// for single-instance deployments. Entries expire with the code itself,
// keeping the map bounded by the 10-minute code lifespan.
type CodeLedger struct {
	mu       sync.Mutex
	redeemed map[string]time.Time // code prefix -> code expiry
}

func NewCodeLedger() *CodeLedger {
	return &CodeLedger{redeemed: make(map[string]time.Time)}
}

// MarkRedeemed records a redemption. It returns false if the prefix was
// already redeemed and has not yet expired.
func (l *CodeLedger) MarkRedeemed(prefix string, expiresAt time.Time) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, expiry := range l.redeemed {
		if now.After(expiry) {
			delete(l.redeemed, key)
		}
	}

	if expiry, ok := l.redeemed[prefix]; ok && now.Before(expiry) {
		return false
	}

	l.redeemed[prefix] = expiresAt
	return true
}

// Len reports the number of live entries, for tests and diagnostics.
func (l *CodeLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.redeemed)
}
