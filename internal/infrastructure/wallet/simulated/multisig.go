package simulated

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/tdex-network/escrowd/internal/core/ports"
	"github.com/thanhpk/randstr"
)

const (
	roundPrepared  = "prepared"
	roundMade      = "made"
	roundExchanged = "exchanged"
	roundInfo      = "info"

	multisigParticipants = 3
)

var (
	ErrNotMultisig        = errors.New("wallet is not multisig")
	ErrAlreadyMultisig    = errors.New("wallet is already multisig")
	ErrInvalidMultisigHex = errors.New("invalid multisig hex")
)

type multisigState struct {
	prepared     bool
	participants []string
	address      string
	imported     map[string]struct{}
}

// multisigHex is the payload exchanged by the participants at every round
// of the bootstrap and before signing.
type multisigHex struct {
	Round        string   `json:"round"`
	Id           string   `json:"id"`
	Participants []string `json:"participants,omitempty"`
	Address      string   `json:"address,omitempty"`
	Nonce        string   `json:"nonce,omitempty"`
}

func (m multisigHex) encode() string {
	buf, _ := json.Marshal(m)
	return hex.EncodeToString(buf)
}

func decodeMultisigHex(str, round string) (*multisigHex, error) {
	buf, err := hex.DecodeString(str)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMultisigHex, err)
	}
	m := &multisigHex{}
	if err := json.Unmarshal(buf, m); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMultisigHex, err)
	}
	if m.Round != round {
		return nil, fmt.Errorf(
			"%w: expected round %s, got %s", ErrInvalidMultisigHex, round, m.Round,
		)
	}
	return m, nil
}

// multisigAddress derives the shared address from the sorted participants.
func multisigAddress(participants []string) string {
	h := chainhash.HashH([]byte(strings.Join(participants, ",")))
	return "5" + h.String()
}

// isMultisig must be called with the wallet lock held.
func (w *Wallet) isMultisig() bool {
	return w.multisig != nil && len(w.multisig.address) > 0
}

func (w *Wallet) PrepareMultisig(_ context.Context) (string, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return "", ErrWalletClosed
	}
	if w.isMultisig() {
		return "", ErrAlreadyMultisig
	}
	if w.multisig == nil {
		w.multisig = &multisigState{imported: make(map[string]struct{})}
	}
	w.multisig.prepared = true
	return multisigHex{Round: roundPrepared, Id: w.id}.encode(), nil
}

func (w *Wallet) MakeMultisig(
	_ context.Context, peerHexes []string, threshold int, password string,
) (string, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return "", ErrWalletClosed
	}
	if password != w.password {
		return "", fmt.Errorf("invalid password for wallet %s", w.name)
	}
	if w.multisig == nil || !w.multisig.prepared {
		return "", fmt.Errorf("multisig must be prepared first")
	}
	if w.isMultisig() {
		return "", ErrAlreadyMultisig
	}
	if threshold != multisigThreshold {
		return "", fmt.Errorf("unsupported multisig threshold %d", threshold)
	}
	if len(peerHexes) != multisigParticipants-1 {
		return "", fmt.Errorf(
			"expected %d peer hexes, got %d", multisigParticipants-1, len(peerHexes),
		)
	}

	ids := map[string]struct{}{w.id: {}}
	for _, h := range peerHexes {
		m, err := decodeMultisigHex(h, roundPrepared)
		if err != nil {
			return "", err
		}
		ids[m.Id] = struct{}{}
	}
	if len(ids) != multisigParticipants {
		return "", fmt.Errorf("%w: duplicate participants", ErrInvalidMultisigHex)
	}

	participants := make([]string, 0, len(ids))
	for id := range ids {
		participants = append(participants, id)
	}
	sort.Strings(participants)
	w.multisig.participants = participants

	return multisigHex{
		Round: roundMade, Id: w.id, Participants: participants,
	}.encode(), nil
}

func (w *Wallet) ExchangeMultisigKeys(
	_ context.Context, peerHexes []string, password string,
) (*ports.MultisigInfo, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return nil, ErrWalletClosed
	}
	if password != w.password {
		return nil, fmt.Errorf("invalid password for wallet %s", w.name)
	}
	if w.multisig == nil || len(w.multisig.participants) <= 0 {
		return nil, fmt.Errorf("multisig must be made first")
	}
	if w.isMultisig() {
		return nil, ErrAlreadyMultisig
	}

	participants := w.multisig.participants
	for _, h := range peerHexes {
		m, err := decodeMultisigHex(h, roundMade)
		if err != nil {
			return nil, err
		}
		if strings.Join(m.Participants, ",") != strings.Join(participants, ",") {
			return nil, fmt.Errorf("%w: participants mismatch", ErrInvalidMultisigHex)
		}
	}

	address := multisigAddress(participants)
	w.ledger.registerMultisig(address, participants)
	w.multisig.address = address

	return &ports.MultisigInfo{
		Address: address,
		MultisigHex: multisigHex{
			Round: roundExchanged, Id: w.id, Address: address,
		}.encode(),
	}, nil
}

func (w *Wallet) IsMultisigImportNeeded(_ context.Context) (bool, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if !w.isMultisig() {
		return false, ErrNotMultisig
	}
	return len(w.multisig.imported) <= 0, nil
}

func (w *Wallet) ExportMultisigHex(_ context.Context) (string, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return "", ErrWalletClosed
	}
	if !w.isMultisig() {
		return "", ErrNotMultisig
	}
	return multisigHex{
		Round: roundInfo, Id: w.id, Address: w.multisig.address, Nonce: randstr.Hex(16),
	}.encode(), nil
}

// ImportMultisigHex returns the number of multisig outputs that can be spent
// after importing the given hexes.
func (w *Wallet) ImportMultisigHex(_ context.Context, hexes []string) (int, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return 0, ErrWalletClosed
	}
	if !w.isMultisig() {
		return 0, ErrNotMultisig
	}

	ids := make([]string, 0, len(hexes))
	for _, h := range hexes {
		m, err := decodeMultisigHex(h, roundInfo)
		if err != nil {
			return 0, err
		}
		if m.Address != w.multisig.address {
			return 0, fmt.Errorf("%w: address mismatch", ErrInvalidMultisigHex)
		}
		if m.Id == w.id || !contains(w.multisig.participants, m.Id) {
			return 0, fmt.Errorf("%w: unknown participant %s", ErrInvalidMultisigHex, m.Id)
		}
		ids = append(ids, m.Id)
	}
	for _, id := range ids {
		w.multisig.imported[id] = struct{}{}
	}

	l := w.ledger
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.unspentOutputs(w.owns)), nil
}

// DescribeTxSet decodes the given tx set. Like the description of a real
// multisig tx set, it doesn't disclose the tx hash.
func (w *Wallet) DescribeTxSet(_ context.Context, txSetHex string) (*ports.Tx, error) {
	blob, err := decodeTxBlob(txSetHex)
	if err != nil {
		return nil, err
	}
	return newPortTx("", blob), nil
}

// SignMultisigTxHex adds the wallet signature to the given tx set. Every
// input must belong to the wallet's multisig address.
func (w *Wallet) SignMultisigTxHex(
	_ context.Context, txSetHex string,
) (*ports.SignedTxSet, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return nil, ErrWalletClosed
	}
	if !w.isMultisig() {
		return nil, ErrNotMultisig
	}
	if len(w.multisig.imported) <= 0 {
		return nil, ErrMultisigImportNeeded
	}

	blob, err := decodeTxBlob(txSetHex)
	if err != nil {
		return nil, err
	}

	l := w.ledger
	l.lock.Lock()
	for _, ki := range blob.Inputs {
		out, ok := l.outputs[ki]
		if !ok || out.address != w.multisig.address {
			l.lock.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrNotOwnedOutput, ki)
		}
	}
	l.lock.Unlock()

	if !contains(blob.Signers, w.id) {
		blob.Signers = append(blob.Signers, w.id)
	}
	return &ports.SignedTxSet{
		Hex:      blob.encode(),
		TxHashes: []string{blob.hash()},
	}, nil
}

// SubmitMultisigTxHex relays the given fully signed tx set.
func (w *Wallet) SubmitMultisigTxHex(
	_ context.Context, txSetHex string,
) ([]string, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return nil, ErrWalletClosed
	}
	if !w.isMultisig() {
		return nil, ErrNotMultisig
	}

	blob, err := decodeTxBlob(txSetHex)
	if err != nil {
		return nil, err
	}

	l := w.ledger
	l.lock.Lock()
	defer l.lock.Unlock()

	if err := l.submit(blob, true); err != nil {
		return nil, err
	}
	return []string{blob.hash()}, nil
}

func contains(list []string, str string) bool {
	for _, s := range list {
		if s == str {
			return true
		}
	}
	return false
}
