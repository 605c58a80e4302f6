package protocol

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/core/ports"
)

func (p *Protocol) handleInitMultisigRequest(
	ctx context.Context, tc *TradeContext, msg *domain.InitMultisigRequest,
) error {
	return p.Run(ctx, "process init multisig request", tc,
		Task{"bind sender", func(_ context.Context, tc *TradeContext) error {
			_, err := p.BindSender(tc)
			return err
		}},
		Task{"create escrow wallet", p.createEscrowWallet},
		Task{"process multisig hexes", p.processInitMultisigRequest},
		Task{"send multisig hexes", p.maybeSendMultisigHexes},
		When(isReadyForContract,
			Task{"create deposit tx", p.createDepositTx},
			Task{"send sign contract request", p.sendSignContractRequest},
			Task{"sign contract", p.signContractIfReady},
		),
	)
}

func (p *Protocol) createEscrowWallet(ctx context.Context, tc *TradeContext) error {
	wallet, err := p.escrow.create(ctx, tc.trade)
	if err != nil {
		return err
	}
	tc.wallet = wallet
	return nil
}

// prepareMultisig runs the first round of the multisig bootstrap, if not
// done yet.
func (p *Protocol) prepareMultisig(ctx context.Context, tc *TradeContext) error {
	tc.locks.multisigMtx.Lock()
	defer tc.locks.multisigMtx.Unlock()

	return p.prepareMultisigLocked(ctx, tc)
}

func (p *Protocol) prepareMultisigLocked(ctx context.Context, tc *TradeContext) error {
	self := tc.trade.Self()
	if self.HasPreparedMultisigHex() {
		return nil
	}
	hex, err := tc.wallet.PrepareMultisig(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare multisig: %w", err)
	}
	if _, err := self.SetPreparedMultisigHex(hex); err != nil {
		return err
	}
	tc.trade.AdvanceState(domain.StateMultisigPrepared)
	return nil
}

// processInitMultisigRequest records the hexes of the sender and moves the
// bootstrap of the multisig wallet forward as far as the known hexes allow.
func (p *Protocol) processInitMultisigRequest(
	ctx context.Context, tc *TradeContext,
) error {
	msg := tc.msg.(*domain.InitMultisigRequest)
	trade := tc.trade
	peer := tc.peer

	tc.locks.multisigMtx.Lock()
	defer tc.locks.multisigMtx.Unlock()

	if err := p.prepareMultisigLocked(ctx, tc); err != nil {
		return err
	}

	if len(msg.PreparedMultisigHex) > 0 {
		if _, err := peer.SetPreparedMultisigHex(msg.PreparedMultisigHex); err != nil {
			return violation("prepared hex: %w", err)
		}
	}
	if len(msg.MadeMultisigHex) > 0 {
		if _, err := peer.SetMadeMultisigHex(msg.MadeMultisigHex); err != nil {
			return violation("made hex: %w", err)
		}
	}
	if len(msg.ExchangedMultisigHex) > 0 {
		if _, err := peer.SetExchangedMultisigHex(msg.ExchangedMultisigHex); err != nil {
			return violation("exchanged hex: %w", err)
		}
	}

	self := trade.Self()
	peers := trade.MultisigPeers()

	if !self.HasMadeMultisigHex() &&
		peers[0].HasPreparedMultisigHex() && peers[1].HasPreparedMultisigHex() {
		hex, err := tc.wallet.MakeMultisig(
			ctx,
			[]string{peers[0].PreparedMultisigHex, peers[1].PreparedMultisigHex},
			multisigThreshold, p.walletPassword,
		)
		if err != nil {
			return fmt.Errorf("failed to make multisig: %w", err)
		}
		if _, err := self.SetMadeMultisigHex(hex); err != nil {
			return err
		}
		trade.AdvanceState(domain.StateMultisigMade)
	}

	if len(self.ExchangedMultisigHex) <= 0 && self.HasMadeMultisigHex() &&
		peers[0].HasMadeMultisigHex() && peers[1].HasMadeMultisigHex() {
		info, err := tc.wallet.ExchangeMultisigKeys(
			ctx,
			[]string{peers[0].MadeMultisigHex, peers[1].MadeMultisigHex},
			p.walletPassword,
		)
		if err != nil {
			return fmt.Errorf("failed to exchange multisig keys: %w", err)
		}
		if len(info.Address) <= 0 {
			return fmt.Errorf("multisig wallet has no address after key exchange")
		}
		if _, err := self.SetExchangedMultisigHex(info.MultisigHex); err != nil {
			return err
		}
		trade.ProcessModel.MultisigAddress = info.Address
		trade.ProcessModel.MultisigSetupComplete = true
		trade.AdvanceState(domain.StateMultisigExchanged)
		trade.AdvanceState(domain.StateMultisigCompleted)
		log.Infof(
			"multisig wallet of trade %s completed with address %s",
			trade.ShortId(), info.Address,
		)
	}
	return nil
}

// maybeSendMultisigHexes sends the local hexes to both multisig peers
// whenever a new bootstrap round has been completed locally.
func (p *Protocol) maybeSendMultisigHexes(
	ctx context.Context, tc *TradeContext,
) error {
	trade := tc.trade
	self := trade.Self()

	rounds := 0
	for _, done := range []bool{
		self.HasPreparedMultisigHex(),
		self.HasMadeMultisigHex(),
		len(self.ExchangedMultisigHex) > 0,
	} {
		if done {
			rounds++
		}
	}
	if rounds <= trade.ProcessModel.MultisigRoundsSent {
		return nil
	}

	peers := trade.MultisigPeers()
	if err := p.sendToAll(ctx, peers[:], func(*domain.TradePeer) (domain.TradeMessage, error) {
		return &domain.InitMultisigRequest{
			MessageHeader:        p.Header(trade),
			PreparedMultisigHex:  self.PreparedMultisigHex,
			MadeMultisigHex:      self.MadeMultisigHex,
			ExchangedMultisigHex: self.ExchangedMultisigHex,
		}, nil
	}); err != nil {
		return err
	}
	trade.ProcessModel.MultisigRoundsSent = rounds
	return nil
}

// isReadyForContract holds for maker and taker once the multisig wallet is
// complete and their deposit tx isn't created yet.
func isReadyForContract(tc *TradeContext) bool {
	trade := tc.trade
	return !trade.IsArbitrator() &&
		trade.ProcessModel.MultisigSetupComplete &&
		len(trade.ProcessModel.DepositTxHash) <= 0
}

// escrowWallet returns the synced escrow wallet of the trade.
func (p *Protocol) escrowWallet(ctx context.Context, tc *TradeContext) (ports.Wallet, error) {
	if tc.wallet != nil {
		if err := tc.wallet.Sync(ctx); err != nil {
			return nil, transportFault(fmt.Errorf("failed to sync escrow wallet: %w", err))
		}
		return tc.wallet, nil
	}
	wallet, err := p.escrow.sync(ctx, tc.trade)
	if err != nil {
		return nil, transportFault(fmt.Errorf("failed to sync escrow wallet: %w", err))
	}
	tc.wallet = wallet
	return wallet, nil
}

// EscrowWallet returns the synced multisig wallet of the trade.
func (p *Protocol) EscrowWallet(ctx context.Context, tc *TradeContext) (ports.Wallet, error) {
	return p.escrowWallet(ctx, tc)
}

// ImportMultisigHexes imports into the escrow wallet the latest hexes
// exported by the other participants. At least one is required to sign a
// tx with the 2-of-3 wallet.
func (p *Protocol) ImportMultisigHexes(ctx context.Context, tc *TradeContext) error {
	wallet, err := p.escrowWallet(ctx, tc)
	if err != nil {
		return err
	}
	hexes := make([]string, 0, 2)
	for _, peer := range tc.trade.MultisigPeers() {
		if len(peer.UpdatedMultisigHex) > 0 {
			hexes = append(hexes, peer.UpdatedMultisigHex)
		}
	}
	if len(hexes) <= 0 {
		return violation("%w", ErrMissingMultisigHexes)
	}

	tc.locks.multisigMtx.Lock()
	defer tc.locks.multisigMtx.Unlock()

	count, err := wallet.ImportMultisigHex(ctx, hexes)
	if err != nil {
		return fmt.Errorf("failed to import multisig hexes: %w", err)
	}
	log.Debugf(
		"imported %d multisig hexes (%d outputs) for trade %s",
		len(hexes), count, tc.trade.ShortId(),
	)
	tc.trade.ProcessModel.MultisigImported = true
	return nil
}

// ExportMultisigHex exports the multisig info of the escrow wallet, to be
// imported by the other participants before signing.
func (p *Protocol) ExportMultisigHex(ctx context.Context, tc *TradeContext) error {
	wallet, err := p.escrowWallet(ctx, tc)
	if err != nil {
		return err
	}

	tc.locks.multisigMtx.Lock()
	defer tc.locks.multisigMtx.Unlock()

	hex, err := wallet.ExportMultisigHex(ctx)
	if err != nil {
		return fmt.Errorf("failed to export multisig hex: %w", err)
	}
	tc.trade.Self().UpdatedMultisigHex = hex
	return nil
}

// UpdateMultisig exchanges fresh multisig hexes with the other participants
// of the trade.
func (p *Protocol) UpdateMultisig(ctx context.Context, trade *domain.Trade) error {
	tc := p.NewTradeContext(trade, nil, "")
	return p.Run(ctx, "update multisig", tc,
		Task{"export multisig hex", p.ExportMultisigHex},
		Task{"send update multisig request", func(ctx context.Context, tc *TradeContext) error {
			return p.sendToAll(ctx, p.otherPeers(trade), func(*domain.TradePeer) (domain.TradeMessage, error) {
				return &domain.UpdateMultisigRequest{
					MessageHeader:      p.Header(trade),
					UpdatedMultisigHex: trade.Self().UpdatedMultisigHex,
				}, nil
			})
		}},
	)
}

func (p *Protocol) handleUpdateMultisigRequest(
	ctx context.Context, tc *TradeContext, msg *domain.UpdateMultisigRequest,
) error {
	return p.Run(ctx, "process update multisig request", tc,
		Task{"record multisig hex", func(_ context.Context, tc *TradeContext) error {
			peer, err := p.BindSender(tc)
			if err != nil {
				return err
			}
			if len(msg.UpdatedMultisigHex) <= 0 {
				return violation("%w", domain.ErrMissingMultisigHex)
			}
			peer.UpdatedMultisigHex = msg.UpdatedMultisigHex
			return nil
		}},
		Task{"export multisig hex", p.ExportMultisigHex},
		Task{"send update multisig response", func(ctx context.Context, tc *TradeContext) error {
			return p.sendDirect(ctx, tc.peer, &domain.UpdateMultisigResponse{
				MessageHeader:      p.Header(tc.trade),
				UpdatedMultisigHex: tc.trade.Self().UpdatedMultisigHex,
			})
		}},
	)
}

func (p *Protocol) handleUpdateMultisigResponse(
	ctx context.Context, tc *TradeContext, msg *domain.UpdateMultisigResponse,
) error {
	return p.Run(ctx, "process update multisig response", tc,
		Task{"record multisig hex", func(_ context.Context, tc *TradeContext) error {
			peer, err := p.BindSender(tc)
			if err != nil {
				return err
			}
			if len(msg.UpdatedMultisigHex) <= 0 {
				return violation("%w", domain.ErrMissingMultisigHex)
			}
			peer.UpdatedMultisigHex = msg.UpdatedMultisigHex
			return nil
		}},
		Task{"import multisig hexes", p.ImportMultisigHexes},
	)
}
