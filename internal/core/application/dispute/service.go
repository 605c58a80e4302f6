// Package dispute implements the arbitration of trades. Traders open
// disputes, the arbitrator resolves them with a signed result and a payout
// tx splitting the escrow accordingly, which the traders co-sign and
// publish.
package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/escrowd/internal/core/application/protocol"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/core/ports"
)

var (
	ErrNotTrader          = errors.New("only buyer or seller can open a dispute")
	ErrNotArbitrator      = errors.New("only the arbitrator can close a dispute")
	ErrDisputeAlreadyOpen = errors.New("dispute already open")
	ErrDisputeNotOpen     = errors.New("dispute is not open")
	ErrResultTradeId      = errors.New("dispute result refers to another trade")
)

// Service is the arbitration service. Its methods must be called from the
// serialized lane of the trade.
type Service interface {
	OpenDispute(ctx context.Context, trade *domain.Trade, reason string) error
	CloseDispute(
		ctx context.Context, trade *domain.Trade, result domain.DisputeResult,
	) error
	// HandleMessage processes DisputeOpened and DisputeClosed messages.
	HandleMessage(
		ctx context.Context, trade *domain.Trade, in ports.InboundMessage,
	) error
	GetDispute(ctx context.Context, tradeId string) (*domain.Dispute, error)
	ListDisputes(ctx context.Context) ([]*domain.Dispute, error)
}

type service struct {
	protocol *protocol.Protocol
	repo     domain.DisputeRepository
}

func NewService(p *protocol.Protocol, repo domain.DisputeRepository) Service {
	return &service{p, repo}
}

func (s *service) GetDispute(ctx context.Context, tradeId string) (*domain.Dispute, error) {
	return s.repo.GetDispute(ctx, tradeId)
}

func (s *service) ListDisputes(ctx context.Context) ([]*domain.Dispute, error) {
	return s.repo.GetAllDisputes(ctx)
}

// OpenDispute lets buyer or seller raise a dispute. The arbitrator and the
// trading peer are notified with a mailbox message carrying a fresh
// multisig hex, so that the arbitrator can later build the payout tx.
func (s *service) OpenDispute(
	ctx context.Context, trade *domain.Trade, reason string,
) error {
	if trade.IsArbitrator() {
		return ErrNotTrader
	}
	if !trade.IsOpen() || !trade.IsDepositsPublished() || trade.IsPayoutPublished() {
		return fmt.Errorf("%w: %s", protocol.ErrInvalidTradeState, trade.State)
	}
	if trade.DisputeState != domain.DisputeStateNoDispute &&
		trade.DisputeState != domain.DisputeStateRequested {
		return ErrDisputeAlreadyOpen
	}

	p := s.protocol
	tc := p.NewTradeContext(trade, nil, "")
	return p.Run(ctx, "open dispute", tc,
		protocol.Task{Name: "record dispute", Run: func(ctx context.Context, tc *protocol.TradeContext) error {
			trade := tc.Trade()
			dispute := domain.NewDispute(trade.Id, p.NodeAddress(), trade.IsBuyer(), reason)
			if err := s.repo.AddDispute(ctx, dispute); err != nil {
				return err
			}
			trade.AdvanceDisputeState(domain.DisputeStateRequested)
			return nil
		}},
		protocol.Task{Name: "export multisig hex", Run: p.ExportMultisigHex},
		protocol.Task{Name: "send dispute opened message", Run: s.sendDisputeOpened(reason)},
	)
}

func (s *service) sendDisputeOpened(reason string) func(context.Context, *protocol.TradeContext) error {
	return func(ctx context.Context, tc *protocol.TradeContext) error {
		p := s.protocol
		trade := tc.Trade()
		results, err := p.SendMailboxToAll(
			ctx, []*domain.TradePeer{trade.Arbitrator(), trade.TradingPeer()},
			func(*domain.TradePeer) (domain.TradeMessage, error) {
				return &domain.DisputeOpenedMessage{
					MessageHeader:      p.Header(trade),
					OpenerIsBuyer:      trade.IsBuyer(),
					Reason:             reason,
					UpdatedMultisigHex: trade.Self().UpdatedMultisigHex,
				}, nil
			},
		)
		if err != nil {
			return err
		}
		for _, res := range results[1:] {
			if res.Err != nil {
				log.WithError(res.Err).Warnf(
					"failed to notify dispute of trade %s to peer", trade.ShortId(),
				)
			}
		}
		// The arbitrator must know about the dispute, the peer is informative.
		if err := results[0].Err; err != nil {
			return err
		}
		trade.AdvanceDisputeState(domain.DisputeStateOpened)
		log.Infof("opened dispute for trade %s", trade.ShortId())
		return nil
	}
}

// CloseDispute lets the arbitrator resolve the dispute of the trade. The
// result is signed and sent to both traders along with the payout tx
// paying out the awarded amounts, already signed by the arbitrator.
func (s *service) CloseDispute(
	ctx context.Context, trade *domain.Trade, result domain.DisputeResult,
) error {
	if !trade.IsArbitrator() {
		return ErrNotArbitrator
	}
	if len(result.TradeId) <= 0 {
		result.TradeId = trade.Id
	}
	if result.TradeId != trade.Id {
		return ErrResultTradeId
	}
	dispute, err := s.repo.GetDispute(ctx, trade.Id)
	if err != nil {
		return err
	}
	if dispute.IsClosed() {
		// Resend the result if the previous attempt didn't reach the traders.
		if trade.DisputeState == domain.DisputeStateArbitratorSendFailedDisputeClosedMsg {
			return s.resendDisputeClosed(ctx, trade, dispute)
		}
		return domain.ErrDisputeAlreadyClosed
	}
	if trade.DisputeState != domain.DisputeStateOpened {
		return ErrDisputeNotOpen
	}
	if result.CloseDate <= 0 {
		result.CloseDate = time.Now().Unix()
	}

	p := s.protocol
	tc := p.NewTradeContext(trade, nil, "")
	var expected []ports.Destination
	return p.Run(ctx, "arbitrator close dispute", tc,
		protocol.Task{Name: "validate result", Run: func(ctx context.Context, tc *protocol.TradeContext) error {
			if err := p.LoadDepositAmounts(ctx, tc); err != nil {
				return err
			}
			dests, err := protocol.DisputePayout(tc.Trade(), result)
			if err != nil {
				return err
			}
			expected = dests
			return nil
		}},
		protocol.Task{Name: "sign result", Run: func(context.Context, *protocol.TradeContext) error {
			sig, err := p.Sign(result)
			if err != nil {
				return err
			}
			result.ArbitratorSignature = sig
			return nil
		}},
		protocol.Task{Name: "create payout tx", Run: func(ctx context.Context, tc *protocol.TradeContext) error {
			hex, err := s.createPayoutTx(ctx, tc, expected)
			if err != nil {
				return err
			}
			return s.repo.UpdateDispute(ctx, trade.Id, func(d *domain.Dispute) (*domain.Dispute, error) {
				if _, err := d.Close(result); err != nil {
					return nil, err
				}
				d.PayoutTxHex = hex
				return d, nil
			})
		}},
		protocol.Task{Name: "export multisig hex", Run: p.ExportMultisigHex},
		protocol.Task{Name: "send dispute closed message", Run: func(ctx context.Context, tc *protocol.TradeContext) error {
			d, err := s.repo.GetDispute(ctx, trade.Id)
			if err != nil {
				return err
			}
			return s.sendDisputeClosed(ctx, tc, d)
		}},
	)
}

func (s *service) resendDisputeClosed(
	ctx context.Context, trade *domain.Trade, dispute *domain.Dispute,
) error {
	p := s.protocol
	tc := p.NewTradeContext(trade, nil, "")
	return p.Run(ctx, "arbitrator resend dispute closed", tc,
		protocol.Task{Name: "send dispute closed message", Run: func(ctx context.Context, tc *protocol.TradeContext) error {
			return s.sendDisputeClosed(ctx, tc, dispute)
		}},
	)
}

func (s *service) createPayoutTx(
	ctx context.Context, tc *protocol.TradeContext, expected []ports.Destination,
) (string, error) {
	p := s.protocol
	trade := tc.Trade()
	if err := p.ImportMultisigHexes(ctx, tc); err != nil {
		return "", err
	}
	wallet, err := p.EscrowWallet(ctx, tc)
	if err != nil {
		return "", err
	}
	feePayers := make([]int, 0, len(expected))
	for i := range expected {
		feePayers = append(feePayers, i)
	}
	tx, err := wallet.CreateTx(ctx, ports.TxConfig{
		Destinations:    expected,
		SubtractFeeFrom: feePayers,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create dispute payout tx: %w", err)
	}
	if err := protocol.VerifyPayoutTx(
		tx, trade.ProcessModel.MultisigAddress, expected,
	); err != nil {
		return "", err
	}
	// The hash of the payout is unknown until a trader co-signs it, then the
	// observer finds it on chain.
	trade.PayoutTxFee = tx.Fee
	return tx.Hex, nil
}

func (s *service) sendDisputeClosed(
	ctx context.Context, tc *protocol.TradeContext, dispute *domain.Dispute,
) error {
	p := s.protocol
	trade := tc.Trade()
	results, err := p.SendMailboxToAll(
		ctx, []*domain.TradePeer{trade.Buyer(), trade.Seller()},
		func(*domain.TradePeer) (domain.TradeMessage, error) {
			return &domain.DisputeClosedMessage{
				MessageHeader:      p.Header(trade),
				Result:             *dispute.Result,
				PayoutTxHex:        dispute.PayoutTxHex,
				UpdatedMultisigHex: trade.Self().UpdatedMultisigHex,
			}, nil
		},
	)
	if err != nil {
		return err
	}

	var (
		stored  bool
		sendErr error
	)
	for _, res := range results {
		if res.Err != nil && sendErr == nil {
			sendErr = res.Err
		}
		stored = stored || res.Stored
	}
	switch {
	case sendErr != nil:
		trade.AdvanceDisputeState(domain.DisputeStateArbitratorSendFailedDisputeClosedMsg)
		return sendErr
	case stored:
		trade.AdvanceDisputeState(domain.DisputeStateArbitratorStoredInMailboxDisputeClosedMsg)
	default:
		trade.AdvanceDisputeState(domain.DisputeStateArbitratorSentDisputeClosedMsg)
	}
	log.Infof(
		"closed dispute for trade %s in favour of %s", trade.ShortId(),
		dispute.Result.Winner,
	)
	return nil
}

// HandleMessage runs the pipeline processing a dispute message and
// acknowledges it to its sender.
func (s *service) HandleMessage(
	ctx context.Context, trade *domain.Trade, in ports.InboundMessage,
) error {
	var err error
	switch msg := in.Message.(type) {
	case *domain.DisputeOpenedMessage:
		err = s.handleDisputeOpened(ctx, trade, in, msg)
	case *domain.DisputeClosedMessage:
		err = s.handleDisputeClosed(ctx, trade, in, msg)
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnknownMessageType, in.Message.Type())
	}
	s.protocol.Ack(ctx, trade, in, err)
	return err
}

func (s *service) handleDisputeOpened(
	ctx context.Context, trade *domain.Trade, in ports.InboundMessage,
	msg *domain.DisputeOpenedMessage,
) error {
	p := s.protocol
	tc := p.NewTradeContext(trade, msg, in.SenderAddress)
	return p.Run(ctx, "process dispute opened message", tc,
		protocol.Task{Name: "process dispute opened message", Run: func(ctx context.Context, tc *protocol.TradeContext) error {
			peer, err := p.BindSender(tc, domain.RoleMaker, domain.RoleTaker)
			if err != nil {
				return err
			}
			trade := tc.Trade()
			if msg.OpenerIsBuyer != (peer == trade.Buyer()) {
				return fmt.Errorf("dispute opener side does not match sender")
			}
			if trade.IsPayoutPublished() {
				return fmt.Errorf("%w: payout already published", protocol.ErrInvalidTradeState)
			}
			if len(msg.UpdatedMultisigHex) > 0 {
				peer.UpdatedMultisigHex = msg.UpdatedMultisigHex
			}
			dispute := domain.NewDispute(
				trade.Id, peer.NodeAddress, msg.OpenerIsBuyer, msg.Reason,
			)
			if err := s.repo.AddDispute(ctx, dispute); err != nil {
				return err
			}
			trade.AdvanceDisputeState(domain.DisputeStateOpened)
			log.Infof(
				"dispute opened by %s for trade %s: %s", peer.NodeAddress,
				trade.ShortId(), msg.Reason,
			)
			return nil
		}},
	)
}

func (s *service) handleDisputeClosed(
	ctx context.Context, trade *domain.Trade, in ports.InboundMessage,
	msg *domain.DisputeClosedMessage,
) error {
	p := s.protocol
	tc := p.NewTradeContext(trade, msg, in.SenderAddress)
	if trade.IsArbitrator() {
		return fmt.Errorf("%w: %s", protocol.ErrUnexpectedMessage, msg.Type())
	}

	return p.Run(ctx, "process dispute closed message", tc,
		protocol.Task{Name: "verify dispute result", Run: func(ctx context.Context, tc *protocol.TradeContext) error {
			peer, err := p.BindSender(tc, domain.RoleArbitrator)
			if err != nil {
				return err
			}
			trade := tc.Trade()
			if msg.Result.TradeId != trade.Id {
				return ErrResultTradeId
			}
			if err := p.VerifySignature(msg.Result, peer.PubKeyRing.SignaturePubKey); err != nil {
				return err
			}
			if len(msg.PayoutTxHex) <= 0 {
				return fmt.Errorf("missing dispute payout tx")
			}
			if len(msg.UpdatedMultisigHex) > 0 {
				peer.UpdatedMultisigHex = msg.UpdatedMultisigHex
			}
			return s.closeDispute(ctx, trade, msg)
		}},
		protocol.Task{Name: "sign and publish payout tx", Run: func(ctx context.Context, tc *protocol.TradeContext) error {
			trade := tc.Trade()
			if err := p.LoadDepositAmounts(ctx, tc); err != nil {
				return err
			}
			expected, err := protocol.DisputePayout(trade, msg.Result)
			if err != nil {
				return err
			}
			if !trade.IsPayoutPublished() {
				if err := p.SignAndPublishPayoutTx(
					ctx, tc, msg.PayoutTxHex, expected, false,
				); err != nil {
					return err
				}
			}
			trade.AdvanceDisputeState(domain.DisputeStateClosed)
			log.Infof(
				"dispute of trade %s closed in favour of %s", trade.ShortId(),
				msg.Result.Winner,
			)
			return nil
		}},
		protocol.Task{Name: "send payout tx published message", Run: p.SendPayoutTxPublished},
	)
}

// closeDispute stores the result of the dispute, creating the record if
// the dispute opened message never reached this node.
func (s *service) closeDispute(
	ctx context.Context, trade *domain.Trade, msg *domain.DisputeClosedMessage,
) error {
	if _, err := s.repo.GetDispute(ctx, trade.Id); err != nil {
		if !errors.Is(err, domain.ErrDisputeNotFound) {
			return err
		}
		dispute := domain.NewDispute(trade.Id, "", false, msg.Result.Reason)
		if err := s.repo.AddDispute(ctx, dispute); err != nil {
			return err
		}
	}
	return s.repo.UpdateDispute(ctx, trade.Id, func(d *domain.Dispute) (*domain.Dispute, error) {
		if d.IsClosed() {
			return d, nil
		}
		if _, err := d.Close(msg.Result); err != nil {
			return nil, err
		}
		d.PayoutTxHex = msg.PayoutTxHex
		return d, nil
	})
}
