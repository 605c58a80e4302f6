package protocol

import "sync"

// TradeLocks are the mutexes scoping the critical sections of a trade that
// can be entered from concurrent goroutines.
type TradeLocks struct {
	// multisigMtx guards the multisig hexes of the trade and the wallet calls
	// of the multisig bootstrap.
	multisigMtx sync.Mutex
	// depositRelayMtx guarantees that deposit txs are relayed only once.
	depositRelayMtx sync.Mutex
	// walletMtx serializes open, close, delete and sync of the escrow wallet.
	walletMtx sync.Mutex
}

// LockRegistry holds the locks of every trade, created on first use.
type LockRegistry struct {
	locks sync.Map
}

func NewLockRegistry() *LockRegistry {
	return &LockRegistry{}
}

func (r *LockRegistry) Get(tradeId string) *TradeLocks {
	locks, _ := r.locks.LoadOrStore(tradeId, &TradeLocks{})
	return locks.(*TradeLocks)
}

func (r *LockRegistry) Delete(tradeId string) {
	r.locks.Delete(tradeId)
}
