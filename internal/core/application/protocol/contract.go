package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/core/ports"
	"github.com/tdex-network/escrowd/pkg/keyring"
)

// createDepositTx creates, without relaying it, the tx funding the escrow
// with the local deposit. Only the outputs reserved for the trade are spent.
func (p *Protocol) createDepositTx(ctx context.Context, tc *TradeContext) error {
	trade := tc.trade
	self := trade.Self()
	pm := &trade.ProcessModel

	wallet := p.wallets.MainWallet()
	payoutAddress, err := wallet.NewSubaddress(ctx, fmt.Sprintf("payout %s", trade.ShortId()))
	if err != nil {
		return err
	}

	amount := trade.ExpectedDepositAmount(self)
	fee := trade.ExpectedTradeFee(self)
	destinations := make([]ports.Destination, 0, 2)
	if fee > 0 {
		destinations = append(destinations, ports.Destination{
			Address: pm.TradeFeeAddress, Amount: fee,
		})
	}
	destinations = append(destinations, ports.Destination{
		Address: pm.MultisigAddress, Amount: amount,
	})

	tx, err := wallet.CreateTx(ctx, ports.TxConfig{
		Destinations: destinations,
		KeyImages:    self.ReserveTxKeyImages,
	})
	if err != nil {
		return fmt.Errorf("failed to create deposit tx: %w", err)
	}

	pm.DepositTxHash = tx.Hash
	pm.DepositTxHex = tx.Hex
	pm.DepositTxKey = tx.Key
	if err := self.SetDepositTx(tx.Hash, tx.Hex, tx.Key); err != nil {
		return err
	}
	self.DepositAmount = amount
	self.PayoutAddress = payoutAddress
	trade.AdvanceState(domain.StateContractSignatureRequested)
	return nil
}

func (p *Protocol) sendSignContractRequest(
	ctx context.Context, tc *TradeContext,
) error {
	trade := tc.trade
	self := trade.Self()
	peers := []*domain.TradePeer{trade.Arbitrator(), trade.TradingPeer()}
	return p.sendToAll(ctx, peers, func(*domain.TradePeer) (domain.TradeMessage, error) {
		return &domain.SignContractRequest{
			MessageHeader:             p.Header(trade),
			AccountId:                 self.AccountId,
			PaymentMethodId:           self.PaymentMethodId,
			PaymentAccountPayloadHash: self.PaymentAccountPayloadHash,
			PayoutAddress:             self.PayoutAddress,
			DepositTxHash:             self.DepositTxHash,
		}, nil
	})
}

func (p *Protocol) handleSignContractRequest(
	ctx context.Context, tc *TradeContext, msg *domain.SignContractRequest,
) error {
	return p.Run(ctx, "process sign contract request", tc,
		Task{"process sign contract request", p.processSignContractRequest},
		Task{"sign contract", p.signContractIfReady},
		When(isContractSignedByAll,
			Task{"send deposit request", p.sendDepositRequest},
		),
	)
}

func (p *Protocol) processSignContractRequest(
	_ context.Context, tc *TradeContext,
) error {
	msg := tc.msg.(*domain.SignContractRequest)
	peer, err := p.BindSender(tc, domain.RoleMaker, domain.RoleTaker)
	if err != nil {
		return err
	}
	if len(msg.PayoutAddress) <= 0 {
		return violation("missing payout address")
	}
	if len(msg.PaymentAccountPayloadHash) <= 0 {
		return violation("missing payment account payload hash")
	}
	if len(peer.AccountId) > 0 && peer.AccountId != msg.AccountId {
		return violation("account id does not match the one of the trade request")
	}
	if len(peer.PaymentMethodId) > 0 && peer.PaymentMethodId != msg.PaymentMethodId {
		return violation("payment method does not match the one of the trade request")
	}
	if err := peer.SetDepositTx(msg.DepositTxHash, "", ""); err != nil {
		return violation("%w", err)
	}
	peer.AccountId = msg.AccountId
	peer.PaymentMethodId = msg.PaymentMethodId
	peer.PaymentAccountPayloadHash = msg.PaymentAccountPayloadHash
	peer.PayoutAddress = msg.PayoutAddress
	peer.AccountAgeWitnessSignature = msg.AccountAgeWitnessSignature
	return nil
}

// signContractIfReady builds and signs the contract as soon as both maker
// and taker deposit txs are known. The signature is sent to the other
// parties: the arbitrator sends it to both traders, each trader sends it
// to its counterparty along with its encrypted payment account.
func (p *Protocol) signContractIfReady(ctx context.Context, tc *TradeContext) error {
	trade := tc.trade
	if trade.Contract != nil {
		return nil
	}
	if len(trade.Maker().DepositTxHash) <= 0 || len(trade.Taker().DepositTxHash) <= 0 {
		return nil
	}

	contract, err := domain.NewContract(trade)
	if err != nil {
		return violation("%w", err)
	}
	if _, err := trade.SetContract(contract); err != nil {
		return violation("%w", err)
	}
	sig, err := p.keyring.Sign(trade.ContractJSON)
	if err != nil {
		return err
	}
	if _, err := trade.Self().SetContractSignature(sig); err != nil {
		return err
	}
	log.Debugf("signed contract of trade %s", trade.ShortId())

	if trade.IsArbitrator() {
		return p.sendToAll(
			ctx, []*domain.TradePeer{trade.Maker(), trade.Taker()},
			func(*domain.TradePeer) (domain.TradeMessage, error) {
				return &domain.SignContractResponse{
					MessageHeader:     p.Header(trade),
					ContractJSON:      trade.ContractJSON,
					ContractSignature: sig,
				}, nil
			},
		)
	}

	encryptedPayload, err := p.encryptPaymentAccount(trade)
	if err != nil {
		return err
	}
	return p.sendDirect(ctx, trade.TradingPeer(), &domain.SignContractResponse{
		MessageHeader:                  p.Header(trade),
		ContractJSON:                   trade.ContractJSON,
		ContractSignature:              sig,
		EncryptedPaymentAccountPayload: encryptedPayload,
	})
}

func (p *Protocol) handleSignContractResponse(
	ctx context.Context, tc *TradeContext, msg *domain.SignContractResponse,
) error {
	if tc.trade.IsArbitrator() {
		return violation("%w: %s", ErrUnexpectedMessage, msg.Type())
	}
	return p.Run(ctx, "process sign contract response", tc,
		Task{"process sign contract response", p.processSignContractResponse},
		Task{"sign contract", p.signContractIfReady},
		Task{"verify contract signature", p.verifyContractSignature},
		When(isContractSignedByAll,
			Task{"send deposit request", p.sendDepositRequest},
		),
	)
}

// processSignContractResponse fills in the counterparty's contract terms
// from the received contract if its sign request has not arrived yet.
func (p *Protocol) processSignContractResponse(
	_ context.Context, tc *TradeContext,
) error {
	msg := tc.msg.(*domain.SignContractResponse)
	trade := tc.trade
	if _, err := p.BindSender(tc); err != nil {
		return err
	}
	if trade.Contract != nil {
		return nil
	}

	contract, err := domain.ParseContract(msg.ContractJSON)
	if err != nil {
		return violation("%w: %s", domain.ErrMalformedMessage, err)
	}
	counterparty := trade.TradingPeer()
	if trade.IsMaker() {
		fillPeerFromContract(
			counterparty, contract.TakerAccountId, contract.TakerPaymentMethodId,
			contract.TakerPaymentAccountPayloadHash, contract.TakerPayoutAddress,
		)
		return counterparty.SetDepositTx(contract.TakerDepositTxHash, "", "")
	}
	fillPeerFromContract(
		counterparty, contract.MakerAccountId, contract.MakerPaymentMethodId,
		contract.MakerPaymentAccountPayloadHash, contract.MakerPayoutAddress,
	)
	return counterparty.SetDepositTx(contract.MakerDepositTxHash, "", "")
}

func fillPeerFromContract(
	peer *domain.TradePeer, accountId, paymentMethodId string,
	payloadHash []byte, payoutAddress string,
) {
	if len(peer.AccountId) <= 0 {
		peer.AccountId = accountId
	}
	if len(peer.PaymentMethodId) <= 0 {
		peer.PaymentMethodId = paymentMethodId
	}
	if len(peer.PaymentAccountPayloadHash) <= 0 {
		peer.PaymentAccountPayloadHash = payloadHash
	}
	if len(peer.PayoutAddress) <= 0 {
		peer.PayoutAddress = payoutAddress
	}
}

// verifyContractSignature makes sure the sender signed the very same
// contract built locally, with the key ring the contract commits to.
func (p *Protocol) verifyContractSignature(_ context.Context, tc *TradeContext) error {
	msg := tc.msg.(*domain.SignContractResponse)
	trade := tc.trade
	peer := tc.peer

	if trade.Contract == nil {
		return violation("%w", ErrMissingContract)
	}
	if !bytes.Equal(trade.ContractJSON, msg.ContractJSON) {
		return violation("%w", domain.ErrContractMismatch)
	}
	switch peer {
	case trade.Maker():
		if !trade.Contract.MakerPubKeyRing.Equal(peer.PubKeyRing) {
			return violation("maker key ring does not match contract")
		}
	case trade.Taker():
		if !trade.Contract.TakerPubKeyRing.Equal(peer.PubKeyRing) {
			return violation("taker key ring does not match contract")
		}
	}
	if !p.keyring.Verify(
		peer.PubKeyRing.SignaturePubKey, trade.ContractJSON, msg.ContractSignature,
	) {
		return violation("%w for contract", ErrInvalidSignature)
	}
	if _, err := peer.SetContractSignature(msg.ContractSignature); err != nil {
		return violation("%w", err)
	}
	if peer == trade.TradingPeer() {
		if len(msg.EncryptedPaymentAccountPayload) <= 0 {
			return violation("missing encrypted payment account payload")
		}
		peer.EncryptedPaymentAccountPayload = msg.EncryptedPaymentAccountPayload
	}
	return nil
}

// isContractSignedByAll holds for maker and taker once all the parties have
// signed the contract and the deposit request isn't sent yet.
func isContractSignedByAll(tc *TradeContext) bool {
	trade := tc.trade
	return !trade.IsArbitrator() && trade.IsContractSigned() &&
		trade.State < domain.StateSentPublishDepositTxRequest
}

// encryptPaymentAccount encrypts the local payment account with a fresh
// key, disclosed to the counterparty only once the deposits are confirmed.
func (p *Protocol) encryptPaymentAccount(trade *domain.Trade) ([]byte, error) {
	account := trade.ProcessModel.PaymentAccount
	if account == nil {
		return nil, fmt.Errorf("missing local payment account")
	}
	self := trade.Self()
	if len(self.PaymentAccountKey) <= 0 {
		key, err := keyring.NewSymmetricKey()
		if err != nil {
			return nil, err
		}
		self.PaymentAccountKey = key
	}
	buf, err := json.Marshal(account)
	if err != nil {
		return nil, err
	}
	return keyring.SealSymmetric(self.PaymentAccountKey, buf)
}

// decryptPaymentAccount reveals the payment account of the given peer once
// both its encrypted payload and the key are known. The payload must match
// the hash committed to in the contract.
func decryptPaymentAccount(peer *domain.TradePeer) error {
	if peer.PaymentAccountPayload != nil {
		return nil
	}
	if len(peer.EncryptedPaymentAccountPayload) <= 0 || len(peer.PaymentAccountKey) <= 0 {
		return nil
	}
	buf, err := keyring.OpenSymmetric(peer.PaymentAccountKey, peer.EncryptedPaymentAccountPayload)
	if err != nil {
		return violation("failed to decrypt payment account: %s", err)
	}
	account := &domain.PaymentAccount{}
	if err := json.Unmarshal(buf, account); err != nil {
		return violation("%w: %s", domain.ErrMalformedMessage, err)
	}
	if !bytes.Equal(account.Hash(), peer.PaymentAccountPayloadHash) {
		return violation("payment account does not match contract")
	}
	peer.PaymentAccountPayload = account
	return nil
}
