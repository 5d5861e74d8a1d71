package trading

import "sync"

// WalletLocks serializes mutations per wallet. Different wallets proceed in
// parallel; trades of one wallet open and close one at a time.
type WalletLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewWalletLocks creates an empty lock registry.
func NewWalletLocks() *WalletLocks {
	return &WalletLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the wallet's lock and returns its release function.
func (l *WalletLocks) Lock(walletID string) func() {
	l.mu.Lock()
	m, ok := l.locks[walletID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[walletID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
