package domain

import "bytes"

// PubKeyRing holds the public keys a node uses to sign protocol messages and
// to receive encrypted ones.
type PubKeyRing struct {
	SignaturePubKey  []byte `json:"signaturePubKey"`
	EncryptionPubKey []byte `json:"encryptionPubKey"`
}

func (r PubKeyRing) IsEmpty() bool {
	return len(r.SignaturePubKey) <= 0 && len(r.EncryptionPubKey) <= 0
}

func (r PubKeyRing) clone() PubKeyRing {
	return PubKeyRing{
		SignaturePubKey:  cloneBytes(r.SignaturePubKey),
		EncryptionPubKey: cloneBytes(r.EncryptionPubKey),
	}
}

func (r PubKeyRing) Equal(other PubKeyRing) bool {
	return bytes.Equal(r.SignaturePubKey, other.SignaturePubKey) &&
		bytes.Equal(r.EncryptionPubKey, other.EncryptionPubKey)
}

// TradePeer is the data structure holding the observable state of one of the
// three parties of a trade, as seen by the local node.
type TradePeer struct {
	NodeAddress string
	PubKeyRing  PubKeyRing

	AccountId                      string
	PaymentMethodId                string
	PaymentAccountPayloadHash      []byte
	EncryptedPaymentAccountPayload []byte
	PaymentAccountKey              []byte
	PaymentAccountPayload          *PaymentAccount

	AccountAgeWitnessNonce     []byte
	AccountAgeWitnessSignature []byte

	ReserveTxHash      string
	ReserveTxHex       string
	ReserveTxKey       string
	ReserveTxKeyImages []string

	DepositTxHash   string
	DepositTxHex    string
	DepositTxKey    string
	DepositAmount   uint64
	SecurityDeposit uint64

	PreparedMultisigHex  string
	MadeMultisigHex      string
	ExchangedMultisigHex string
	UpdatedMultisigHex   string

	ContractSignature []byte
	PayoutAddress     string
	PayoutTxHex       string
	PayoutTxFee       uint64
	PayoutAmount      uint64
}

func (p *TradePeer) clone() *TradePeer {
	if p == nil {
		return nil
	}
	c := *p
	c.PubKeyRing = p.PubKeyRing.clone()
	c.PaymentAccountPayloadHash = cloneBytes(p.PaymentAccountPayloadHash)
	c.EncryptedPaymentAccountPayload = cloneBytes(p.EncryptedPaymentAccountPayload)
	c.PaymentAccountKey = cloneBytes(p.PaymentAccountKey)
	c.PaymentAccountPayload = p.PaymentAccountPayload.clone()
	c.AccountAgeWitnessNonce = cloneBytes(p.AccountAgeWitnessNonce)
	c.AccountAgeWitnessSignature = cloneBytes(p.AccountAgeWitnessSignature)
	if p.ReserveTxKeyImages != nil {
		c.ReserveTxKeyImages = append([]string{}, p.ReserveTxKeyImages...)
	}
	c.ContractSignature = cloneBytes(p.ContractSignature)
	return &c
}

func cloneBytes(buf []byte) []byte {
	if buf == nil {
		return nil
	}
	return append([]byte{}, buf...)
}

// SetPubKeyRing binds the peer to the given key ring. Once bound, the key ring
// can't be changed for the whole lifetime of the trade.
func (p *TradePeer) SetPubKeyRing(ring PubKeyRing) error {
	if ring.IsEmpty() {
		return ErrPeerMissingPubKeyRing
	}
	if p.PubKeyRing.IsEmpty() {
		p.PubKeyRing = ring
		return nil
	}
	if !p.PubKeyRing.Equal(ring) {
		return ErrPeerPubKeyRingChanged
	}
	return nil
}

// SetPreparedMultisigHex records the hex of the first multisig round. It
// returns true only when the value is recorded for the first time, while
// setting the same value again is a no-op and a differing one is rejected.
func (p *TradePeer) SetPreparedMultisigHex(hex string) (bool, error) {
	return setOnce(&p.PreparedMultisigHex, hex)
}

// SetMadeMultisigHex records the hex of the second multisig round, with the
// same write-once rules of SetPreparedMultisigHex.
func (p *TradePeer) SetMadeMultisigHex(hex string) (bool, error) {
	return setOnce(&p.MadeMultisigHex, hex)
}

// SetExchangedMultisigHex records the hex returned by the last multisig round.
func (p *TradePeer) SetExchangedMultisigHex(hex string) (bool, error) {
	return setOnce(&p.ExchangedMultisigHex, hex)
}

// SetContractSignature records the peer's signature of the contract. A
// different signature for an already signed contract is rejected.
func (p *TradePeer) SetContractSignature(sig []byte) (bool, error) {
	if len(sig) <= 0 {
		return false, ErrMissingSignature
	}
	if len(p.ContractSignature) <= 0 {
		p.ContractSignature = sig
		return true, nil
	}
	if !bytes.Equal(p.ContractSignature, sig) {
		return false, ErrContractSignatureMismatch
	}
	return false, nil
}

// SetDepositTx records the peer's deposit transaction. The hash can't change
// once known, while hex and key can be added later.
func (p *TradePeer) SetDepositTx(hash, hex, key string) error {
	if len(hash) <= 0 {
		return ErrMissingDepositTx
	}
	if len(p.DepositTxHash) > 0 && p.DepositTxHash != hash {
		return ErrDepositTxMismatch
	}
	p.DepositTxHash = hash
	if len(hex) > 0 {
		p.DepositTxHex = hex
	}
	if len(key) > 0 {
		p.DepositTxKey = key
	}
	return nil
}

func (p *TradePeer) HasPreparedMultisigHex() bool {
	return len(p.PreparedMultisigHex) > 0
}

func (p *TradePeer) HasMadeMultisigHex() bool {
	return len(p.MadeMultisigHex) > 0
}

func (p *TradePeer) HasDepositTx() bool {
	return len(p.DepositTxHex) > 0
}

func setOnce(field *string, value string) (bool, error) {
	if len(value) <= 0 {
		return false, ErrMissingMultisigHex
	}
	if len(*field) <= 0 {
		*field = value
		return true, nil
	}
	if *field != value {
		return false, ErrMultisigHexMismatch
	}
	return false, nil
}
