// Package simulated implements the wallet and daemon ports on top of an
// in-memory XMR-like ledger shared by all the nodes of a test network. It
// models what the settlement protocol depends on: unrelayed txs, key images,
// tx keys, 2-of-3 multisig wallets and unlock times.
package simulated

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/tdex-network/escrowd/internal/core/ports"
)

const (
	// UnlockConfirmations is the number of confirmations after which the
	// outputs of a tx can be spent.
	UnlockConfirmations = 10
	// DefaultFee is the miner fee paid by every tx.
	DefaultFee = 100000000

	multisigThreshold = 2
)

var (
	ErrTxNotFound        = errors.New("tx not found")
	ErrInsufficientFunds = errors.New("not enough unlocked funds")
	ErrInvalidTxHex      = errors.New("invalid tx hex")
	ErrTxDoubleSpend     = errors.New("tx double spends an output")
)

type destination struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

// txBlob is the serialized form of a tx. The hash commits to inputs,
// outputs, fee and nonce only, so that partially and fully signed versions
// of the same multisig tx share the same hash.
type txBlob struct {
	Inputs       []string      `json:"inputs"`
	Destinations []destination `json:"destinations"`
	Change       *destination  `json:"change,omitempty"`
	Fee          uint64        `json:"fee"`
	Nonce        uint64        `json:"nonce,omitempty"`
	Key          string        `json:"key"`
	Signers      []string      `json:"signers"`
}

func (b *txBlob) hash() string {
	body := struct {
		Inputs       []string      `json:"inputs"`
		Destinations []destination `json:"destinations"`
		Change       *destination  `json:"change,omitempty"`
		Fee          uint64        `json:"fee"`
		Nonce        uint64        `json:"nonce,omitempty"`
	}{b.Inputs, b.Destinations, b.Change, b.Fee, b.Nonce}
	buf, _ := json.Marshal(body)
	return chainhash.HashH(buf).String()
}

func (b *txBlob) outputs() []destination {
	outs := append([]destination{}, b.Destinations...)
	if b.Change != nil && b.Change.Amount > 0 {
		outs = append(outs, *b.Change)
	}
	return outs
}

func (b *txBlob) outputSum() uint64 {
	var sum uint64
	for _, o := range b.outputs() {
		sum += o.Amount
	}
	return sum
}

func (b *txBlob) encode() string {
	buf, _ := json.Marshal(b)
	return hex.EncodeToString(buf)
}

func decodeTxBlob(txHex string) (*txBlob, error) {
	buf, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTxHex, err)
	}
	blob := &txBlob{}
	if err := json.Unmarshal(buf, blob); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTxHex, err)
	}
	return blob, nil
}

type output struct {
	keyImage string
	address  string
	amount   uint64
	txHash   string
	spentBy  string
}

type ledgerTx struct {
	hash    string
	blob    *txBlob
	relayed bool
	height  uint64
}

// Ledger is the shared chain and tx pool. It implements ports.Daemon.
type Ledger struct {
	lock sync.Mutex

	fee    uint64
	height uint64
	nonce  uint64

	txs     map[string]*ledgerTx
	outputs map[string]*output
	// owners maps every known address to the id of the wallet owning it.
	owners map[string]string
	// multisigs maps every multisig address to its participants.
	multisigs map[string][]string
}

func NewLedger(fee uint64) *Ledger {
	if fee == 0 {
		fee = DefaultFee
	}
	return &Ledger{
		fee:       fee,
		height:    1,
		txs:       make(map[string]*ledgerTx),
		outputs:   make(map[string]*output),
		owners:    make(map[string]string),
		multisigs: make(map[string][]string),
	}
}

// Fee returns the miner fee paid by every tx.
func (l *Ledger) Fee() uint64 {
	return l.fee
}

// Fund relays a coinbase-like tx paying amount to address. Its output can be
// spent once UnlockConfirmations blocks are mined.
func (l *Ledger) Fund(address string, amount uint64) string {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.nonce++
	blob := &txBlob{
		Destinations: []destination{{address, amount}},
		Nonce:        l.nonce,
	}
	hash := blob.hash()
	l.txs[hash] = &ledgerTx{hash: hash, blob: blob}
	l.relay(l.txs[hash])
	return hash
}

// MineBlocks mines n blocks, confirming all the relayed txs in the pool with
// the first one.
func (l *Ledger) MineBlocks(n int) {
	l.lock.Lock()
	defer l.lock.Unlock()

	for i := 0; i < n; i++ {
		l.height++
		for _, tx := range l.txs {
			if tx.relayed && tx.height == 0 {
				tx.height = l.height
			}
		}
	}
}

func (l *Ledger) Height(_ context.Context) (uint64, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.height, nil
}

func (l *Ledger) SubmitTxHex(
	_ context.Context, txHex string, doNotRelay bool,
) (*ports.SubmitResult, error) {
	blob, err := decodeTxBlob(txHex)
	if err != nil {
		return &ports.SubmitResult{Reason: err.Error()}, nil
	}

	l.lock.Lock()
	defer l.lock.Unlock()

	if err := l.submit(blob, !doNotRelay); err != nil {
		res := &ports.SubmitResult{Reason: err.Error()}
		if errors.Is(err, ErrTxDoubleSpend) {
			res.DoubleSpend = true
		}
		return res, nil
	}
	return &ports.SubmitResult{Accepted: true}, nil
}

func (l *Ledger) RelayTxsByHash(_ context.Context, hashes []string) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	for _, hash := range hashes {
		tx, ok := l.txs[hash]
		if !ok {
			return fmt.Errorf("%w: %s", ErrTxNotFound, hash)
		}
		if tx.relayed {
			continue
		}
		if err := l.checkInputs(tx.blob); err != nil {
			return err
		}
		l.relay(tx)
	}
	return nil
}

// GetTxs returns the known txs among the given ones, skipping the others.
func (l *Ledger) GetTxs(_ context.Context, hashes []string) ([]*ports.Tx, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	txs := make([]*ports.Tx, 0, len(hashes))
	for _, hash := range hashes {
		if tx, ok := l.txs[hash]; ok {
			txs = append(txs, l.toPortTx(tx, nil))
		}
	}
	return txs, nil
}

// submit validates the given tx and adds it to the pool. Unrelayed txs
// don't lock their inputs: a relayed tx spending any of them evicts them.
func (l *Ledger) submit(blob *txBlob, relay bool) error {
	hash := blob.hash()
	if tx, ok := l.txs[hash]; ok {
		if relay && !tx.relayed {
			if err := l.checkInputs(tx.blob); err != nil {
				return err
			}
			if err := l.checkSignatures(blob); err != nil {
				return err
			}
			tx.blob.Signers = blob.Signers
			l.relay(tx)
		}
		return nil
	}

	if err := l.checkInputs(blob); err != nil {
		return err
	}
	if err := l.checkSignatures(blob); err != nil {
		return err
	}

	var inSum uint64
	for _, ki := range blob.Inputs {
		inSum += l.outputs[ki].amount
	}
	if inSum != blob.outputSum()+blob.Fee {
		return fmt.Errorf("inputs (%d) do not match outputs plus fee (%d)", inSum, blob.outputSum()+blob.Fee)
	}
	if blob.Fee < l.fee {
		return fmt.Errorf("fee %d is lower than minimum %d", blob.Fee, l.fee)
	}

	tx := &ledgerTx{hash: hash, blob: blob}
	l.txs[hash] = tx
	if relay {
		l.relay(tx)
	}
	return nil
}

func (l *Ledger) checkInputs(blob *txBlob) error {
	if len(blob.Inputs) <= 0 {
		return fmt.Errorf("tx has no inputs")
	}
	seen := make(map[string]struct{}, len(blob.Inputs))
	for _, ki := range blob.Inputs {
		if _, ok := seen[ki]; ok {
			return fmt.Errorf("%w: duplicate input %s", ErrTxDoubleSpend, ki)
		}
		seen[ki] = struct{}{}

		out, ok := l.outputs[ki]
		if !ok {
			return fmt.Errorf("unknown input %s", ki)
		}
		if len(out.spentBy) > 0 {
			return fmt.Errorf("%w: %s spent by %s", ErrTxDoubleSpend, ki, out.spentBy)
		}
		if l.confirmations(l.txs[out.txHash]) < UnlockConfirmations {
			return fmt.Errorf("input %s is locked", ki)
		}
	}
	return nil
}

// checkSignatures makes sure every input is signed by its owner, or by at
// least 2 participants for multisig outputs.
func (l *Ledger) checkSignatures(blob *txBlob) error {
	signers := make(map[string]struct{}, len(blob.Signers))
	for _, s := range blob.Signers {
		signers[s] = struct{}{}
	}
	for _, ki := range blob.Inputs {
		out := l.outputs[ki]
		if participants, ok := l.multisigs[out.address]; ok {
			count := 0
			for _, p := range participants {
				if _, ok := signers[p]; ok {
					count++
				}
			}
			if count < multisigThreshold {
				return fmt.Errorf(
					"input %s has %d signatures, %d required", ki, count, multisigThreshold,
				)
			}
			continue
		}
		if _, ok := signers[l.owners[out.address]]; !ok {
			return fmt.Errorf("input %s is not signed by its owner", ki)
		}
	}
	return nil
}

func (l *Ledger) relay(tx *ledgerTx) {
	tx.relayed = true
	for _, ki := range tx.blob.Inputs {
		l.outputs[ki].spentBy = tx.hash
	}
	for i, out := range tx.blob.outputs() {
		ki := keyImage(tx.hash, i)
		l.outputs[ki] = &output{
			keyImage: ki,
			address:  out.Address,
			amount:   out.Amount,
			txHash:   tx.hash,
		}
	}

	// Evict the unrelayed txs conflicting with the relayed one.
	spent := make(map[string]struct{}, len(tx.blob.Inputs))
	for _, ki := range tx.blob.Inputs {
		spent[ki] = struct{}{}
	}
	for hash, other := range l.txs {
		if other.relayed {
			continue
		}
		for _, ki := range other.blob.Inputs {
			if _, ok := spent[ki]; ok {
				delete(l.txs, hash)
				break
			}
		}
	}
}

func (l *Ledger) confirmations(tx *ledgerTx) uint64 {
	if tx == nil || tx.height == 0 {
		return 0
	}
	return l.height - tx.height + 1
}

// toPortTx converts a ledger tx. If owned is not nil, IncomingAmount is the
// amount received by the owned addresses.
func (l *Ledger) toPortTx(tx *ledgerTx, owned func(string) bool) *ports.Tx {
	res := newPortTx(tx.hash, tx.blob)
	res.Height = tx.height
	res.Confirmations = l.confirmations(tx)
	res.InTxPool = tx.height == 0
	res.IsRelayed = tx.relayed
	if owned != nil {
		for _, out := range tx.blob.outputs() {
			if owned(out.Address) {
				res.IncomingAmount += out.Amount
			}
		}
	}
	return res
}

func newPortTx(hash string, blob *txBlob) *ports.Tx {
	dests := make([]ports.Destination, 0, len(blob.Destinations))
	for _, d := range blob.Destinations {
		dests = append(dests, ports.Destination{Address: d.Address, Amount: d.Amount})
	}
	tx := &ports.Tx{
		Hash:         hash,
		Hex:          blob.encode(),
		Key:          blob.Key,
		Fee:          blob.Fee,
		Destinations: dests,
		OutputSum:    blob.outputSum(),
		KeyImages:    append([]string{}, blob.Inputs...),
	}
	if blob.Change != nil {
		tx.ChangeAddress = blob.Change.Address
		tx.ChangeAmount = blob.Change.Amount
	}
	return tx
}

func (l *Ledger) registerAddress(address, ownerId string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.owners[address] = ownerId
}

func (l *Ledger) registerMultisig(address string, participants []string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.multisigs[address] = append([]string{}, participants...)
}

// unspentOutputs returns the unspent outputs received by the given
// addresses, biggest first.
func (l *Ledger) unspentOutputs(owned func(string) bool) []output {
	outs := make([]output, 0)
	for _, out := range l.outputs {
		if len(out.spentBy) <= 0 && owned(out.address) {
			outs = append(outs, *out)
		}
	}
	sort.Slice(outs, func(i, j int) bool {
		if outs[i].amount == outs[j].amount {
			return outs[i].keyImage < outs[j].keyImage
		}
		return outs[i].amount > outs[j].amount
	})
	return outs
}

func (l *Ledger) isUnlocked(out output) bool {
	return l.confirmations(l.txs[out.txHash]) >= UnlockConfirmations
}

// checkTxKey returns the amount paid to address by the tx, that must be
// known to the ledger and whose key must match.
func (l *Ledger) checkTxKey(hash, key, address string) (*ports.TxKeyCheck, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	tx, ok := l.txs[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTxNotFound, hash)
	}
	if tx.blob.Key != key {
		return nil, fmt.Errorf("invalid key for tx %s", hash)
	}
	var received uint64
	for _, out := range tx.blob.outputs() {
		if out.Address == address {
			received += out.Amount
		}
	}
	return &ports.TxKeyCheck{
		ReceivedAmount: received,
		InTxPool:       tx.height == 0,
		Confirmations:  l.confirmations(tx),
	}, nil
}

func keyImage(txHash string, index int) string {
	return chainhash.HashH([]byte(fmt.Sprintf("%s:%d", txHash, index))).String()
}
