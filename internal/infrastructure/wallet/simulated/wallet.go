package simulated

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tdex-network/escrowd/internal/core/ports"
	"github.com/thanhpk/randstr"
)

var (
	ErrWalletClosed         = errors.New("wallet is closed")
	ErrNotOwnedOutput       = errors.New("output not owned by wallet")
	ErrMultisigImportNeeded = errors.New("multisig info must be imported first")
)

// Wallet is a ports.Wallet whose funds live in a Ledger. The zero value is
// not usable, wallets are created with NewWallet or by a WalletService.
type Wallet struct {
	ledger   *Ledger
	name     string
	password string
	id       string

	lock         sync.Mutex
	closed       bool
	primary      string
	subaddresses map[string]struct{}
	frozen       map[string]struct{}
	multisig     *multisigState
}

func NewWallet(ledger *Ledger, name, password string) *Wallet {
	w := &Wallet{
		ledger:       ledger,
		name:         name,
		password:     password,
		id:           "w" + randstr.Hex(16),
		primary:      "4" + randstr.Hex(40),
		subaddresses: make(map[string]struct{}),
		frozen:       make(map[string]struct{}),
	}
	ledger.registerAddress(w.primary, w.id)
	return w
}

func (w *Wallet) Name() string {
	return w.name
}

func (w *Wallet) PrimaryAddress(_ context.Context) (string, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return "", ErrWalletClosed
	}
	if w.isMultisig() {
		return w.multisig.address, nil
	}
	return w.primary, nil
}

func (w *Wallet) NewSubaddress(_ context.Context, _ string) (string, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return "", ErrWalletClosed
	}
	addr := "8" + randstr.Hex(40)
	w.subaddresses[addr] = struct{}{}
	w.ledger.registerAddress(addr, w.id)
	return addr, nil
}

func (w *Wallet) Sync(_ context.Context) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return ErrWalletClosed
	}
	return nil
}

func (w *Wallet) Height(ctx context.Context) (uint64, error) {
	return w.ledger.Height(ctx)
}

func (w *Wallet) Balance(_ context.Context) (ports.Balance, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return ports.Balance{}, ErrWalletClosed
	}

	l := w.ledger
	l.lock.Lock()
	defer l.lock.Unlock()

	balance := ports.Balance{}
	for _, out := range l.unspentOutputs(w.owns) {
		balance.Total += out.amount
		if _, frozen := w.frozen[out.keyImage]; !frozen && l.isUnlocked(out) {
			balance.Unlocked += out.amount
		}
	}
	return balance, nil
}

// CreateTx creates a tx paying the given destinations. Frozen outputs are
// spent only if explicitly listed in cfg.KeyImages. For multisig wallets the
// returned hex is the tx set to be co-signed.
func (w *Wallet) CreateTx(_ context.Context, cfg ports.TxConfig) (*ports.Tx, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return nil, ErrWalletClosed
	}
	if len(cfg.Destinations) <= 0 {
		return nil, fmt.Errorf("missing tx destinations")
	}
	if w.isMultisig() && len(w.multisig.imported) <= 0 {
		return nil, ErrMultisigImportNeeded
	}

	l := w.ledger
	l.lock.Lock()
	defer l.lock.Unlock()

	var total uint64
	for _, d := range cfg.Destinations {
		if d.Amount <= 0 || len(d.Address) <= 0 {
			return nil, fmt.Errorf("invalid destination %s: %d", d.Address, d.Amount)
		}
		total += d.Amount
	}
	needed := total
	if len(cfg.SubtractFeeFrom) <= 0 {
		needed += l.fee
	}

	inputs, err := w.selectInputs(cfg.KeyImages, needed)
	if err != nil {
		return nil, err
	}
	var inSum uint64
	keyImages := make([]string, 0, len(inputs))
	for _, in := range inputs {
		inSum += in.amount
		keyImages = append(keyImages, in.keyImage)
	}
	if inSum < needed {
		return nil, fmt.Errorf("%w: %d < %d", ErrInsufficientFunds, inSum, needed)
	}
	sort.Strings(keyImages)

	dests := make([]destination, 0, len(cfg.Destinations))
	for _, d := range cfg.Destinations {
		dests = append(dests, destination{d.Address, d.Amount})
	}
	if err := subtractFee(dests, cfg.SubtractFeeFrom, l.fee); err != nil {
		return nil, err
	}

	blob := &txBlob{
		Inputs:       keyImages,
		Destinations: dests,
		Fee:          l.fee,
		Key:          randstr.Hex(64),
		Signers:      []string{w.id},
	}
	if change := inSum - needed; change > 0 {
		blob.Change = &destination{w.changeAddress(), change}
	}

	if cfg.Relay {
		if err := l.submit(blob, true); err != nil {
			return nil, err
		}
	}
	// The hash of a multisig tx is disclosed once it's fully signed.
	hash := blob.hash()
	if w.isMultisig() {
		hash = ""
	}
	return newPortTx(hash, blob), nil
}

func (w *Wallet) GetTx(_ context.Context, hash string) (*ports.Tx, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return nil, ErrWalletClosed
	}

	l := w.ledger
	l.lock.Lock()
	defer l.lock.Unlock()

	tx, ok := l.txs[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTxNotFound, hash)
	}
	return l.toPortTx(tx, w.owns), nil
}

func (w *Wallet) GetTxs(_ context.Context, hashes []string) ([]*ports.Tx, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return nil, ErrWalletClosed
	}

	l := w.ledger
	l.lock.Lock()
	defer l.lock.Unlock()

	txs := make([]*ports.Tx, 0, len(hashes))
	for _, hash := range hashes {
		if tx, ok := l.txs[hash]; ok {
			txs = append(txs, l.toPortTx(tx, w.owns))
		}
	}
	return txs, nil
}

// GetOutgoingTxs returns the relayed txs spending any output of the wallet,
// oldest first.
func (w *Wallet) GetOutgoingTxs(_ context.Context) ([]*ports.Tx, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return nil, ErrWalletClosed
	}

	l := w.ledger
	l.lock.Lock()
	defer l.lock.Unlock()

	txs := make([]*ports.Tx, 0)
	for _, tx := range l.txs {
		if !tx.relayed {
			continue
		}
		for _, ki := range tx.blob.Inputs {
			if out, ok := l.outputs[ki]; ok && w.owns(out.address) {
				txs = append(txs, l.toPortTx(tx, w.owns))
				break
			}
		}
	}
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].InTxPool != txs[j].InTxPool {
			return !txs[i].InTxPool
		}
		if txs[i].Height == txs[j].Height {
			return txs[i].Hash < txs[j].Hash
		}
		return txs[i].Height < txs[j].Height
	})
	return txs, nil
}

func (w *Wallet) CheckTxKey(
	_ context.Context, hash, key, address string,
) (*ports.TxKeyCheck, error) {
	return w.ledger.checkTxKey(hash, key, address)
}

func (w *Wallet) FreezeKeyImages(_ context.Context, keyImages []string) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	l := w.ledger
	l.lock.Lock()
	defer l.lock.Unlock()

	for _, ki := range keyImages {
		out, ok := l.outputs[ki]
		if !ok || !w.owns(out.address) {
			return fmt.Errorf("%w: %s", ErrNotOwnedOutput, ki)
		}
	}
	for _, ki := range keyImages {
		w.frozen[ki] = struct{}{}
	}
	return nil
}

func (w *Wallet) ThawKeyImages(_ context.Context, keyImages []string) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	for _, ki := range keyImages {
		delete(w.frozen, ki)
	}
	return nil
}

// IsFrozen returns whether the output with the given key image is frozen.
func (w *Wallet) IsFrozen(keyImage string) bool {
	w.lock.Lock()
	defer w.lock.Unlock()

	_, ok := w.frozen[keyImage]
	return ok
}

func (w *Wallet) close() {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.closed = true
}

func (w *Wallet) reopen(password string) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	if password != w.password {
		return fmt.Errorf("invalid password for wallet %s", w.name)
	}
	w.closed = false
	return nil
}

// selectInputs must be called with both wallet and ledger locks held.
func (w *Wallet) selectInputs(keyImages []string, needed uint64) ([]output, error) {
	l := w.ledger
	if len(keyImages) > 0 {
		inputs := make([]output, 0, len(keyImages))
		for _, ki := range keyImages {
			out, ok := l.outputs[ki]
			if !ok || !w.owns(out.address) {
				return nil, fmt.Errorf("%w: %s", ErrNotOwnedOutput, ki)
			}
			if len(out.spentBy) > 0 {
				return nil, fmt.Errorf("%w: %s", ErrTxDoubleSpend, ki)
			}
			if !l.isUnlocked(*out) {
				return nil, fmt.Errorf("output %s is locked", ki)
			}
			inputs = append(inputs, *out)
		}
		return inputs, nil
	}

	inputs := make([]output, 0)
	var sum uint64
	for _, out := range l.unspentOutputs(w.owns) {
		if sum >= needed {
			break
		}
		if _, frozen := w.frozen[out.keyImage]; frozen || !l.isUnlocked(out) {
			continue
		}
		inputs = append(inputs, out)
		sum += out.amount
	}
	return inputs, nil
}

// owns must be called with the wallet lock held.
func (w *Wallet) owns(address string) bool {
	if address == w.primary {
		return true
	}
	if _, ok := w.subaddresses[address]; ok {
		return true
	}
	return w.isMultisig() && address == w.multisig.address
}

func (w *Wallet) changeAddress() string {
	if w.isMultisig() {
		return w.multisig.address
	}
	return w.primary
}

// subtractFee deducts the fee from the destinations at the given indexes in
// equal parts, the first ones paying the remainder.
func subtractFee(dests []destination, indexes []int, fee uint64) error {
	if len(indexes) <= 0 {
		return nil
	}
	n := uint64(len(indexes))
	share, rem := fee/n, fee%n
	for i, index := range indexes {
		if index < 0 || index >= len(dests) {
			return fmt.Errorf("invalid subtract fee index %d", index)
		}
		deduction := share
		if uint64(i) < rem {
			deduction++
		}
		if dests[index].Amount <= deduction {
			return fmt.Errorf("destination %d can't pay its fee share", index)
		}
		dests[index].Amount -= deduction
	}
	return nil
}
