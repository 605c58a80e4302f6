// Package wstransport is the p2p transport of the daemon. Every message is a
// sealed envelope sent over a short-lived websocket connection and
// acknowledged by the recipient before the send returns. Mailbox messages
// that can't be delivered are kept in the outbox and periodically resent.
package wstransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/core/ports"
	"github.com/tdex-network/escrowd/internal/infrastructure/p2p"
)

const (
	path = "/p2p"

	frameMessage = "msg"
	frameMailbox = "mailbox"
	frameAck     = "ack"

	inboxSize             = 256
	defaultAckTimeout     = 30 * time.Second
	defaultResendInterval = time.Minute
	maxFrameSize          = 1 << 22
)

var ErrNotStarted = errors.New("transport not started")

type frame struct {
	Kind      string          `json:"kind"`
	Id        string          `json:"id"`
	Envelopes []*p2p.Envelope `json:"envelopes,omitempty"`
	Error     string          `json:"error,omitempty"`
}

type Config struct {
	// ListenAddress is the host:port the transport listens on.
	ListenAddress string
	// PublicAddress is the address advertised to peers. It defaults to the
	// address of the listener.
	PublicAddress  string
	KeyRing        ports.KeyRing
	Outbox         domain.MailboxRepository
	AckTimeout     time.Duration
	ResendInterval time.Duration
}

func (c Config) validate() error {
	if len(c.ListenAddress) <= 0 {
		return fmt.Errorf("missing listen address")
	}
	if c.KeyRing == nil {
		return fmt.Errorf("missing keyring")
	}
	if c.Outbox == nil {
		return fmt.Errorf("missing outbox repository")
	}
	return nil
}

type service struct {
	cfg      Config
	dialer   *websocket.Dialer
	upgrader websocket.Upgrader
	inbox    chan []ports.InboundMessage

	lock     sync.RWMutex
	address  string
	server   *http.Server
	quitChan chan struct{}
	wg       sync.WaitGroup
}

func NewService(cfg Config) (ports.Messenger, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	if cfg.ResendInterval <= 0 {
		cfg.ResendInterval = defaultResendInterval
	}
	return &service{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.AckTimeout},
		inbox:   make(chan []ports.InboundMessage, inboxSize),
		address: cfg.PublicAddress,
	}, nil
}

func (s *service) NodeAddress() string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.address
}

func (s *service) Inbox() <-chan []ports.InboundMessage {
	return s.inbox
}

func (s *service) Start(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.server != nil {
		return nil
	}

	lis, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddress, err)
	}
	if len(s.address) <= 0 {
		s.address = lis.Addr().String()
	}

	router := chi.NewRouter()
	router.Get(path, s.handleConn)
	s.server = &http.Server{Handler: router}
	s.quitChan = make(chan struct{})

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(lis); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("p2p server stopped unexpectedly")
		}
	}()
	go s.resendLoop(s.quitChan)

	log.Infof("p2p transport listening on %s (node address %s)", lis.Addr(), s.address)
	return nil
}

func (s *service) Stop() {
	s.lock.Lock()
	server, quitChan := s.server, s.quitChan
	s.server, s.quitChan = nil, nil
	s.lock.Unlock()

	if server == nil {
		return
	}
	close(quitChan)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.AckTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("failed to gracefully stop p2p server")
	}
	s.wg.Wait()
	log.Info("p2p transport stopped")
}

func (s *service) SendDirectMessage(
	ctx context.Context, address string, ring domain.PubKeyRing,
	msg domain.TradeMessage,
) error {
	if !s.isStarted() {
		return ErrNotStarted
	}
	env, err := p2p.Seal(s.cfg.KeyRing, s.NodeAddress(), ring, msg)
	if err != nil {
		return err
	}
	return s.send(ctx, address, frameMessage, []*p2p.Envelope{env})
}

func (s *service) SendMailboxMessage(
	ctx context.Context, address string, ring domain.PubKeyRing,
	msg domain.TradeMessage,
) (bool, error) {
	if !domain.IsMailboxMessage(msg.Type()) {
		return false, fmt.Errorf("%w: %s", p2p.ErrNotMailboxType, msg.Type())
	}
	if !s.isStarted() {
		return false, ErrNotStarted
	}
	env, err := p2p.Seal(s.cfg.KeyRing, s.NodeAddress(), ring, msg)
	if err != nil {
		return false, err
	}

	err = s.send(ctx, address, frameMessage, []*p2p.Envelope{env})
	if err == nil {
		return false, nil
	}
	log.WithError(err).Debugf(
		"failed to deliver %s to %s, storing in outbox", msg.Type(), address,
	)

	payload, _ := json.Marshal(env)
	outMsg := domain.NewMailboxMessage(address, ring, msg, payload)
	if err := s.cfg.Outbox.AddMessage(ctx, outMsg); err != nil {
		return false, fmt.Errorf("failed to store %s in outbox: %w", msg.Type(), err)
	}
	return true, nil
}

// send writes a frame to the peer at the given address and waits for its
// acknowledgment.
func (s *service) send(
	ctx context.Context, address, kind string, envs []*p2p.Envelope,
) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.AckTimeout)
	defer cancel()

	conn, _, err := s.dialer.DialContext(ctx, fmt.Sprintf("ws://%s%s", address, path), nil)
	if err != nil {
		return fmt.Errorf("%s: %w", address, p2p.ErrPeerOffline)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)

	f := frame{Kind: kind, Id: uuid.New().String(), Envelopes: envs}
	if err := conn.WriteJSON(f); err != nil {
		return fmt.Errorf("failed to write to %s: %w", address, err)
	}

	ack := frame{}
	if err := conn.ReadJSON(&ack); err != nil {
		return fmt.Errorf("failed to read ack from %s: %w", address, err)
	}
	if ack.Kind != frameAck || ack.Id != f.Id {
		return fmt.Errorf("unexpected response from %s", address)
	}
	if len(ack.Error) > 0 {
		return fmt.Errorf("rejected by %s: %s", address, ack.Error)
	}
	return nil
}

func (s *service) handleConn(w http.ResponseWriter, req *http.Request) {
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.WithError(err).Debug("failed to upgrade p2p connection")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameSize)

	for {
		f := frame{}
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("p2p connection closed unexpectedly")
			}
			return
		}

		ack := frame{Kind: frameAck, Id: f.Id}
		if err := s.receive(req.Context(), f); err != nil {
			ack.Error = err.Error()
		}
		if err := conn.WriteJSON(ack); err != nil {
			log.WithError(err).Debug("failed to write p2p ack")
			return
		}
	}
}

// receive opens the envelopes of the frame and delivers them to the inbox as
// a single batch. Invalid envelopes are dropped.
func (s *service) receive(ctx context.Context, f frame) error {
	if f.Kind != frameMessage && f.Kind != frameMailbox {
		return fmt.Errorf("unknown frame kind %s", f.Kind)
	}

	batch := make([]ports.InboundMessage, 0, len(f.Envelopes))
	var lastErr error
	for _, env := range f.Envelopes {
		msg, err := p2p.Open(s.cfg.KeyRing, env)
		if err != nil {
			log.WithError(err).Warnf("dropping invalid message from %s", env.SenderAddress)
			lastErr = err
			continue
		}
		msg.FromMailbox = f.Kind == frameMailbox
		batch = append(batch, *msg)
	}
	if len(batch) <= 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("empty frame")
		}
		return lastErr
	}

	select {
	case s.inbox <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *service) isStarted() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.server != nil
}
