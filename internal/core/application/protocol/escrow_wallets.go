package protocol

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/core/ports"
)

// escrowWallets keeps track of the multisig wallets opened for the trades.
// Every operation on the wallet of a trade is serialized by the trade's
// walletMtx.
type escrowWallets struct {
	svc      ports.WalletService
	password string
	locks    *LockRegistry

	lock sync.RWMutex
	open map[string]ports.Wallet
}

func newEscrowWallets(
	svc ports.WalletService, password string, locks *LockRegistry,
) *escrowWallets {
	return &escrowWallets{
		svc:      svc,
		password: password,
		locks:    locks,
		open:     make(map[string]ports.Wallet),
	}
}

// create returns the escrow wallet of the trade, creating it if it doesn't
// exist yet.
func (w *escrowWallets) create(
	ctx context.Context, trade *domain.Trade,
) (ports.Wallet, error) {
	mtx := &w.locks.Get(trade.Id).walletMtx
	mtx.Lock()
	defer mtx.Unlock()

	if wallet := w.get(trade.Id); wallet != nil {
		return wallet, nil
	}

	name := trade.EscrowWalletName()
	exists, err := w.svc.WalletExists(ctx, name)
	if err != nil {
		return nil, err
	}
	var wallet ports.Wallet
	if exists {
		wallet, err = w.svc.OpenWallet(ctx, name, w.password)
	} else {
		wallet, err = w.svc.CreateWallet(ctx, name, w.password)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create escrow wallet %s: %w", name, err)
	}
	w.set(trade.Id, wallet)
	return wallet, nil
}

// openWallet returns the escrow wallet of the trade, opening it if needed.
// The wallet must already exist.
func (w *escrowWallets) openWallet(
	ctx context.Context, trade *domain.Trade,
) (ports.Wallet, error) {
	mtx := &w.locks.Get(trade.Id).walletMtx
	mtx.Lock()
	defer mtx.Unlock()

	if wallet := w.get(trade.Id); wallet != nil {
		return wallet, nil
	}
	wallet, err := w.svc.OpenWallet(ctx, trade.EscrowWalletName(), w.password)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to open escrow wallet %s: %w", trade.EscrowWalletName(), err,
		)
	}
	w.set(trade.Id, wallet)
	return wallet, nil
}

// sync refreshes the escrow wallet of the trade.
func (w *escrowWallets) sync(
	ctx context.Context, trade *domain.Trade,
) (ports.Wallet, error) {
	wallet, err := w.openWallet(ctx, trade)
	if err != nil {
		return nil, err
	}

	mtx := &w.locks.Get(trade.Id).walletMtx
	mtx.Lock()
	defer mtx.Unlock()

	if err := wallet.Sync(ctx); err != nil {
		return nil, err
	}
	return wallet, nil
}

// delete closes and deletes the escrow wallet of the trade. It must be
// called only once the payout is unlocked.
func (w *escrowWallets) delete(ctx context.Context, trade *domain.Trade) error {
	mtx := &w.locks.Get(trade.Id).walletMtx
	mtx.Lock()
	defer mtx.Unlock()

	name := trade.EscrowWalletName()
	if w.get(trade.Id) != nil {
		if err := w.svc.CloseWallet(ctx, name, true); err != nil {
			return err
		}
		w.unset(trade.Id)
	}
	exists, err := w.svc.WalletExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return w.svc.DeleteWallet(ctx, name)
}

// closeAll force-closes every open escrow wallet.
func (w *escrowWallets) closeAll(ctx context.Context) {
	w.lock.RLock()
	ids := make([]string, 0, len(w.open))
	for id := range w.open {
		ids = append(ids, id)
	}
	w.lock.RUnlock()

	for _, id := range ids {
		mtx := &w.locks.Get(id).walletMtx
		mtx.Lock()
		if wallet := w.get(id); wallet != nil {
			if err := w.svc.CloseWallet(ctx, wallet.Name(), true); err != nil {
				log.WithError(err).Warnf("failed to close wallet %s", wallet.Name())
			}
			w.unset(id)
		}
		mtx.Unlock()
	}
}

func (w *escrowWallets) get(tradeId string) ports.Wallet {
	w.lock.RLock()
	defer w.lock.RUnlock()
	return w.open[tradeId]
}

func (w *escrowWallets) set(tradeId string, wallet ports.Wallet) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.open[tradeId] = wallet
}

func (w *escrowWallets) unset(tradeId string) {
	w.lock.Lock()
	defer w.lock.Unlock()
	delete(w.open, tradeId)
}
