// Package inmemory implements a p2p network whose nodes live in the same
// process. Messages are sealed and opened like on a real transport, and the
// ones sent to offline nodes are kept in per-node mailboxes.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/core/ports"
	"github.com/tdex-network/escrowd/internal/infrastructure/p2p"
)

const inboxSize = 256

type Network struct {
	lock      sync.Mutex
	nodes     map[string]*Node
	mailboxes map[string][]*p2p.Envelope
}

func NewNetwork() *Network {
	return &Network{
		nodes:     make(map[string]*Node),
		mailboxes: make(map[string][]*p2p.Envelope),
	}
}

// NewNode adds an offline node to the network. It goes online once started.
func (n *Network) NewNode(address string, keyring ports.KeyRing) *Node {
	n.lock.Lock()
	defer n.lock.Unlock()

	node := &Node{
		network: n,
		address: address,
		keyring: keyring,
		inbox:   make(chan []ports.InboundMessage, inboxSize),
	}
	n.nodes[address] = node
	return node
}

// MailboxSize returns the number of messages waiting for the given node.
func (n *Network) MailboxSize(address string) int {
	n.lock.Lock()
	defer n.lock.Unlock()
	return len(n.mailboxes[address])
}

func (n *Network) onlineNode(address string) *Node {
	n.lock.Lock()
	defer n.lock.Unlock()

	node, ok := n.nodes[address]
	if !ok || !node.isOnline() {
		return nil
	}
	return node
}

func (n *Network) store(address string, env *p2p.Envelope) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.mailboxes[address] = append(n.mailboxes[address], env)
}

func (n *Network) takeMailbox(address string) []*p2p.Envelope {
	n.lock.Lock()
	defer n.lock.Unlock()

	envs := n.mailboxes[address]
	delete(n.mailboxes, address)
	return envs
}

// Node is a ports.Messenger attached to a Network.
type Node struct {
	network *Network
	address string
	keyring ports.KeyRing
	inbox   chan []ports.InboundMessage

	lock   sync.RWMutex
	online bool
}

func (n *Node) NodeAddress() string {
	return n.address
}

func (n *Node) Inbox() <-chan []ports.InboundMessage {
	return n.inbox
}

// Start brings the node online and delivers all the messages stored in its
// mailbox in a single batch.
func (n *Node) Start(ctx context.Context) error {
	n.lock.Lock()
	n.online = true
	n.lock.Unlock()

	envs := n.network.takeMailbox(n.address)
	if len(envs) <= 0 {
		return nil
	}
	batch := make([]ports.InboundMessage, 0, len(envs))
	for _, env := range envs {
		msg, err := p2p.Open(n.keyring, env)
		if err != nil {
			log.WithError(err).Warnf(
				"%s: dropping invalid mailbox message from %s", n.address, env.SenderAddress,
			)
			continue
		}
		msg.FromMailbox = true
		batch = append(batch, *msg)
	}
	if len(batch) <= 0 {
		return nil
	}
	return n.deliver(ctx, batch)
}

// Stop takes the node offline. The inbox is left open so that a stopped
// node can be restarted.
func (n *Node) Stop() {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.online = false
}

func (n *Node) SendDirectMessage(
	ctx context.Context, address string, ring domain.PubKeyRing,
	msg domain.TradeMessage,
) error {
	if !n.isOnline() {
		return fmt.Errorf("%s: %w", n.address, p2p.ErrPeerOffline)
	}
	env, err := p2p.Seal(n.keyring, n.address, ring, msg)
	if err != nil {
		return err
	}
	recipient := n.network.onlineNode(address)
	if recipient == nil {
		return fmt.Errorf("%s: %w", address, p2p.ErrPeerOffline)
	}
	return recipient.receive(ctx, env)
}

func (n *Node) SendMailboxMessage(
	ctx context.Context, address string, ring domain.PubKeyRing,
	msg domain.TradeMessage,
) (bool, error) {
	if !domain.IsMailboxMessage(msg.Type()) {
		return false, fmt.Errorf("%w: %s", p2p.ErrNotMailboxType, msg.Type())
	}
	if !n.isOnline() {
		return false, fmt.Errorf("%s: %w", n.address, p2p.ErrPeerOffline)
	}
	env, err := p2p.Seal(n.keyring, n.address, ring, msg)
	if err != nil {
		return false, err
	}
	if recipient := n.network.onlineNode(address); recipient != nil {
		if err := recipient.receive(ctx, env); err == nil {
			return false, nil
		}
	}
	n.network.store(address, env)
	return true, nil
}

func (n *Node) receive(ctx context.Context, env *p2p.Envelope) error {
	msg, err := p2p.Open(n.keyring, env)
	if err != nil {
		return err
	}
	return n.deliver(ctx, []ports.InboundMessage{*msg})
}

func (n *Node) deliver(ctx context.Context, batch []ports.InboundMessage) error {
	select {
	case n.inbox <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Node) isOnline() bool {
	n.lock.RLock()
	defer n.lock.RUnlock()
	return n.online
}
