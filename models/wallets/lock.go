package wallets

import "sync"

// LockRegistry serializes mutating operations per wallet. It is process
// local, a restart clears every lock. Persisted busy columns are repaired
// by the startup sweep, not by this registry.
type LockRegistry struct {
	mu   sync.Mutex
	busy map[int]struct{}
}

// NewLockRegistry creates an empty registry
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{
		busy: make(map[int]struct{}),
	}
}

// TryAcquire marks the wallet busy and returns true, or returns false if
// another operation already holds it. Callers that get false must fail
// fast, there is no wait queue.
func (r *LockRegistry) TryAcquire(walletID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, held := r.busy[walletID]; held {
		return false
	}
	r.busy[walletID] = struct{}{}
	return true
}

// Release clears the busy mark. Safe to call for a wallet that isn't held.
func (r *LockRegistry) Release(walletID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.busy, walletID)
}

// IsBusy reports whether the wallet is currently held
func (r *LockRegistry) IsBusy(walletID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, held := r.busy[walletID]
	return held
}
