package capacity

import (
	"sync"

	"campaignservice/internal/models"
)

// Ledger coordinates step capacity between jobs running in one worker
// process. Each job reserves against the provider allowance it observed; a
// reservation is released when the step ends. It does not span processes.
type Ledger struct {
	mu       sync.Mutex
	reserved map[ledgerKey]int
}

type ledgerKey struct {
	businessID string
	channel    models.Channel
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{reserved: make(map[ledgerKey]int)}
}

// Reserve claims up to want slots out of allowance minus what other
// in-flight steps already hold. It returns the number granted and a release
// func that must be called once the step is finished.
func (l *Ledger) Reserve(businessID string, channel models.Channel, allowance, want int) (int, func()) {
	if want <= 0 {
		return 0, func() {}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey{businessID: businessID, channel: channel}
	free := allowance - l.reserved[key]
	if free <= 0 {
		return 0, func() {}
	}
	granted := want
	if granted > free {
		granted = free
	}
	l.reserved[key] += granted

	var once sync.Once
	return granted, func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.reserved[key] -= granted
			if l.reserved[key] <= 0 {
				delete(l.reserved, key)
			}
		})
	}
}

// Reserved reports the slots currently held for a business/channel
func (l *Ledger) Reserved(businessID string, channel models.Channel) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reserved[ledgerKey{businessID: businessID, channel: channel}]
}
