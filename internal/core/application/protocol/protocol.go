package protocol

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/core/ports"
	"golang.org/x/sync/errgroup"
)

const (
	multisigThreshold = 2

	// Number of confirmations after which the outputs of a tx are spendable.
	UnlockConfirmations = 10
)

var (
	DefaultMaxFeeTolerance = decimal.NewFromFloat(0.25)
	DefaultTimeout         = 60 * time.Second

	paymentAccountKeyRetryInterval = 2 * time.Minute
)

type Config struct {
	Wallets   ports.WalletService
	Daemon    ports.Daemon
	Messenger ports.Messenger
	KeyRing   ports.KeyRing
	Repo      ports.RepoManager
	Store     TradeStore
	Locks     *LockRegistry

	TradeFeeAddress string
	WalletPassword  string
	MaxFeeTolerance decimal.Decimal
	Timeout         time.Duration
}

func (c Config) validate() error {
	if c.Wallets == nil {
		return fmt.Errorf("missing wallet service")
	}
	if c.Daemon == nil {
		return fmt.Errorf("missing daemon")
	}
	if c.Messenger == nil {
		return fmt.Errorf("missing messenger")
	}
	if c.KeyRing == nil {
		return fmt.Errorf("missing keyring")
	}
	if c.Repo == nil {
		return fmt.Errorf("missing repo manager")
	}
	if c.Store == nil {
		return fmt.Errorf("missing trade store")
	}
	if len(c.TradeFeeAddress) <= 0 {
		return fmt.Errorf("missing trade fee address")
	}
	if len(c.WalletPassword) <= 0 {
		return fmt.Errorf("missing wallet password")
	}
	if c.MaxFeeTolerance.IsNegative() {
		return fmt.Errorf("max fee tolerance must not be negative")
	}
	return nil
}

// Protocol implements the settlement protocol for every role. Each exported
// method runs one pipeline against a trade and must be called from the
// trade's serialized lane.
type Protocol struct {
	wallets   ports.WalletService
	daemon    ports.Daemon
	messenger ports.Messenger
	keyring   ports.KeyRing
	repo      ports.RepoManager
	store     TradeStore
	locks     *LockRegistry
	escrow    *escrowWallets

	tradeFeeAddress string
	walletPassword  string
	maxFeeTolerance decimal.Decimal
	timeout         time.Duration

	shuttingDown atomic.Bool
}

func NewProtocol(cfg Config) (*Protocol, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Locks == nil {
		cfg.Locks = NewLockRegistry()
	}
	if cfg.MaxFeeTolerance.IsZero() {
		cfg.MaxFeeTolerance = DefaultMaxFeeTolerance
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Protocol{
		wallets:         cfg.Wallets,
		daemon:          cfg.Daemon,
		messenger:       cfg.Messenger,
		keyring:         cfg.KeyRing,
		repo:            cfg.Repo,
		store:           cfg.Store,
		locks:           cfg.Locks,
		escrow:          newEscrowWallets(cfg.Wallets, cfg.WalletPassword, cfg.Locks),
		tradeFeeAddress: cfg.TradeFeeAddress,
		walletPassword:  cfg.WalletPassword,
		maxFeeTolerance: cfg.MaxFeeTolerance,
		timeout:         cfg.Timeout,
	}, nil
}

// TradeContext is the state shared by the tasks of a pipeline.
type TradeContext struct {
	trade  *domain.Trade
	locks  *TradeLocks
	msg    domain.TradeMessage
	sender string
	// peer is the trade participant that sent msg, once verified.
	peer *domain.TradePeer
	// wallet is the escrow wallet of the trade, once opened.
	wallet ports.Wallet
	// submittedPayout is set if the pipeline relayed the payout tx.
	submittedPayout bool
}

func (p *Protocol) NewTradeContext(
	trade *domain.Trade, msg domain.TradeMessage, sender string,
) *TradeContext {
	return &TradeContext{
		trade:  trade,
		locks:  p.locks.Get(trade.Id),
		msg:    msg,
		sender: sender,
	}
}

func (tc *TradeContext) Trade() *domain.Trade {
	return tc.trade
}

func (tc *TradeContext) Message() domain.TradeMessage {
	return tc.msg
}

// Peer returns the verified sender of the message, if any.
func (tc *TradeContext) Peer() *domain.TradePeer {
	return tc.peer
}

func (p *Protocol) Run(
	ctx context.Context, name string, tc *TradeContext, tasks ...Task,
) error {
	return newTaskRunner(name, tc, p.store, p.timeout, tasks...).Run(ctx)
}

// NodeAddress returns the p2p address of the local node.
func (p *Protocol) NodeAddress() string {
	return p.messenger.NodeAddress()
}

// PubKeyRing returns the key ring of the local node.
func (p *Protocol) PubKeyRing() domain.PubKeyRing {
	return p.keyring.PubKeyRing()
}

// BeginShutdown prevents any new network operation from starting.
func (p *Protocol) BeginShutdown() {
	p.shuttingDown.Store(true)
}

// Stop begins the shutdown, if not already, and force-closes the escrow
// wallets left open.
func (p *Protocol) Stop(ctx context.Context) {
	p.BeginShutdown()
	p.escrow.closeAll(ctx)
}

func (p *Protocol) IsShuttingDown() bool {
	return p.shuttingDown.Load()
}

// FailTrade moves the trade to the failed bucket. If the deposits are not
// published yet, the funds reserved for the trade are released.
func (p *Protocol) FailTrade(
	ctx context.Context, trade *domain.Trade, reason string,
) error {
	if !trade.Fail(reason) {
		return nil
	}
	log.Warnf("trade %s failed: %s", trade.ShortId(), reason)

	if !trade.IsDepositsPublished() {
		if keyImages := trade.Self().ReserveTxKeyImages; len(keyImages) > 0 {
			if err := p.wallets.MainWallet().ThawKeyImages(ctx, keyImages); err != nil {
				log.WithError(err).Warnf(
					"failed to release reserved funds of trade %s", trade.ShortId(),
				)
			}
		}
		// Nothing was ever locked in the multisig wallet.
		if err := p.escrow.delete(ctx, trade); err != nil {
			log.WithError(err).Warnf(
				"failed to delete escrow wallet of trade %s", trade.ShortId(),
			)
		}
	}
	return p.store.SaveTrade(ctx, trade)
}

// HandleMessage runs the pipeline processing a message received for the
// given trade. Mailbox messages are acknowledged to their sender once
// processed, either successfully or not.
func (p *Protocol) HandleMessage(
	ctx context.Context, trade *domain.Trade, in ports.InboundMessage,
) error {
	msg := in.Message
	tc := p.NewTradeContext(trade, msg, in.SenderAddress)

	var err error
	switch m := msg.(type) {
	case *domain.InitTradeRequest:
		err = p.handleInitTradeRequest(ctx, tc, m)
	case *domain.InitMultisigRequest:
		err = p.handleInitMultisigRequest(ctx, tc, m)
	case *domain.SignContractRequest:
		err = p.handleSignContractRequest(ctx, tc, m)
	case *domain.SignContractResponse:
		err = p.handleSignContractResponse(ctx, tc, m)
	case *domain.DepositRequest:
		err = p.handleDepositRequest(ctx, tc, m)
	case *domain.DepositResponse:
		err = p.handleDepositResponse(ctx, tc, m)
	case *domain.DepositsConfirmedMessage:
		err = p.handleDepositsConfirmed(ctx, tc, m)
	case *domain.PaymentSentMessage:
		err = p.handlePaymentSent(ctx, tc, m)
	case *domain.PaymentReceivedMessage:
		err = p.handlePaymentReceived(ctx, tc, m)
	case *domain.PayoutTxPublishedMessage:
		err = p.handlePayoutTxPublished(ctx, tc, m)
	case *domain.UpdateMultisigRequest:
		err = p.handleUpdateMultisigRequest(ctx, tc, m)
	case *domain.UpdateMultisigResponse:
		err = p.handleUpdateMultisigResponse(ctx, tc, m)
	case *domain.PaymentAccountKeyRequest:
		err = p.handlePaymentAccountKeyRequest(ctx, tc, m)
	case *domain.PaymentAccountKeyResponse:
		err = p.handlePaymentAccountKeyResponse(ctx, tc, m)
	case *domain.AckMessage:
		err = p.handleAck(ctx, tc, m)
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnknownMessageType, msg.Type())
	}

	if msg.Type() != domain.MsgAck && domain.IsMailboxMessage(msg.Type()) {
		p.sendAck(ctx, tc, err)
	}
	return err
}

// Ack sends the acknowledgment of the message of the given context to its
// sender. It's exported for the message handlers living outside of this
// package.
func (p *Protocol) Ack(
	ctx context.Context, trade *domain.Trade, in ports.InboundMessage, err error,
) {
	tc := p.NewTradeContext(trade, in.Message, in.SenderAddress)
	tc.peer = trade.PeerByAddress(in.Message.Header().SenderNodeAddress)
	p.sendAck(ctx, tc, err)
}

func (p *Protocol) sendAck(ctx context.Context, tc *TradeContext, err error) {
	peer := tc.peer
	if peer == nil {
		return
	}
	ack := domain.NewAckMessage(p.Header(tc.trade), tc.msg, err)
	if _, sendErr := p.sendMailbox(ctx, peer, ack); sendErr != nil {
		log.WithError(sendErr).Warnf(
			"failed to ack %s to %s", tc.msg.Type(), peer.NodeAddress,
		)
	}
}

func (p *Protocol) Header(trade *domain.Trade) domain.MessageHeader {
	return domain.NewMessageHeader(
		trade.Id, p.messenger.NodeAddress(), p.keyring.PubKeyRing(),
	)
}

// BindSender identifies the participant that sent the message of the
// context, checks it plays one of the given roles, and binds it to the
// sender's key ring.
func (p *Protocol) BindSender(
	tc *TradeContext, roles ...domain.Role,
) (*domain.TradePeer, error) {
	header := tc.msg.Header()
	if len(tc.sender) > 0 && tc.sender != header.SenderNodeAddress {
		return nil, violation(
			"%w: %s != %s", ErrSenderAddressMismatch, tc.sender,
			header.SenderNodeAddress,
		)
	}
	if header.TradeId != tc.trade.Id {
		return nil, violation("message for trade %s, got %s", tc.trade.Id, header.TradeId)
	}

	peer := tc.trade.PeerByAddress(header.SenderNodeAddress)
	if peer == nil || peer == tc.trade.Self() {
		return nil, violation("%w: %s", ErrUnknownSender, header.SenderNodeAddress)
	}
	role, _ := tc.trade.RoleOf(peer)
	allowed := len(roles) <= 0
	for _, r := range roles {
		if r == role {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, violation(
			"%w: %s from %s", ErrUnexpectedMessage, tc.msg.Type(), role,
		)
	}
	if err := peer.SetPubKeyRing(header.SenderPubKeyRing); err != nil {
		return nil, violation("%s: %w", role, err)
	}
	tc.peer = peer
	return peer, nil
}

func (p *Protocol) sendDirect(
	ctx context.Context, peer *domain.TradePeer, msg domain.TradeMessage,
) error {
	if p.IsShuttingDown() {
		return transportFault(ErrShuttingDown)
	}
	if err := p.messenger.SendDirectMessage(
		ctx, peer.NodeAddress, peer.PubKeyRing, msg,
	); err != nil {
		return transportFault(
			fmt.Errorf("failed to send %s to %s: %w", msg.Type(), peer.NodeAddress, err),
		)
	}
	log.Debugf(
		"sent %s for trade %s to %s", msg.Type(), msg.Header().TradeId, peer.NodeAddress,
	)
	return nil
}

func (p *Protocol) sendMailbox(
	ctx context.Context, peer *domain.TradePeer, msg domain.TradeMessage,
) (bool, error) {
	if p.IsShuttingDown() {
		return false, transportFault(ErrShuttingDown)
	}
	stored, err := p.messenger.SendMailboxMessage(
		ctx, peer.NodeAddress, peer.PubKeyRing, msg,
	)
	if err != nil {
		return false, transportFault(
			fmt.Errorf("failed to send %s to %s: %w", msg.Type(), peer.NodeAddress, err),
		)
	}
	return stored, nil
}

// sendToAll sends the messages returned by newMsg to all the given peers
// concurrently, and waits for all of them to be delivered.
func (p *Protocol) sendToAll(
	ctx context.Context, peers []*domain.TradePeer,
	newMsg func(peer *domain.TradePeer) (domain.TradeMessage, error),
) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for i := range peers {
		peer := peers[i]
		msg, err := newMsg(peer)
		if err != nil {
			return err
		}
		eg.Go(func() error { return p.sendDirect(egCtx, peer, msg) })
	}
	return eg.Wait()
}

// MailboxResult is the outcome of a mailbox send to one peer.
type MailboxResult struct {
	Peer   *domain.TradePeer
	Stored bool
	Err    error
}

// SendMailboxToAll sends the messages returned by newMsg to all the given
// peers concurrently, storing them for later delivery if a peer is offline.
func (p *Protocol) SendMailboxToAll(
	ctx context.Context, peers []*domain.TradePeer,
	newMsg func(peer *domain.TradePeer) (domain.TradeMessage, error),
) ([]MailboxResult, error) {
	results := make([]MailboxResult, len(peers))
	msgs := make([]domain.TradeMessage, len(peers))
	for i, peer := range peers {
		msg, err := newMsg(peer)
		if err != nil {
			return nil, err
		}
		msgs[i] = msg
	}

	wg := &sync.WaitGroup{}
	for i := range peers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stored, err := p.sendMailbox(ctx, peers[i], msgs[i])
			results[i] = MailboxResult{peers[i], stored, err}
		}(i)
	}
	wg.Wait()
	return results, nil
}

// Signable is implemented by messages and records signed by one party.
type Signable interface {
	UnsignedBytes() ([]byte, error)
	Signature() []byte
}

func (p *Protocol) Sign(msg Signable) ([]byte, error) {
	buf, err := msg.UnsignedBytes()
	if err != nil {
		return nil, err
	}
	return p.keyring.Sign(buf)
}

func (p *Protocol) VerifySignature(msg Signable, pubkey []byte) error {
	buf, err := msg.UnsignedBytes()
	if err != nil {
		return violation("%w: %s", domain.ErrMalformedMessage, err)
	}
	if !p.keyring.Verify(pubkey, buf, msg.Signature()) {
		return violation("%w for %T", ErrInvalidSignature, msg)
	}
	return nil
}

func (p *Protocol) otherPeers(trade *domain.Trade) []*domain.TradePeer {
	peers := trade.MultisigPeers()
	return peers[:]
}
