package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tdex-network/escrowd/internal/core/domain"
)

type mailboxRepositoryImpl struct {
	msgs   map[string]*domain.MailboxMessage
	locker *sync.RWMutex
}

func NewMailboxRepositoryImpl() domain.MailboxRepository {
	return &mailboxRepositoryImpl{
		msgs:   map[string]*domain.MailboxMessage{},
		locker: &sync.RWMutex{},
	}
}

func (r *mailboxRepositoryImpl) AddMessage(_ context.Context, msg *domain.MailboxMessage) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	if _, ok := r.msgs[msg.Id]; ok {
		return fmt.Errorf("mailbox message %s already exists", msg.Id)
	}
	r.msgs[msg.Id] = clone(msg)
	return nil
}

func (r *mailboxRepositoryImpl) GetMessagesForRecipient(
	_ context.Context, address string,
) ([]*domain.MailboxMessage, error) {
	r.locker.RLock()
	defer r.locker.RUnlock()

	return r.findMessages(func(m *domain.MailboxMessage) bool {
		return m.RecipientAddress == address
	}), nil
}

func (r *mailboxRepositoryImpl) GetAllMessages(
	_ context.Context,
) ([]*domain.MailboxMessage, error) {
	r.locker.RLock()
	defer r.locker.RUnlock()

	return r.findMessages(func(*domain.MailboxMessage) bool { return true }), nil
}

func (r *mailboxRepositoryImpl) UpdateMessage(
	_ context.Context,
	id string,
	updateFn func(m *domain.MailboxMessage) (*domain.MailboxMessage, error),
) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	msg, ok := r.msgs[id]
	if !ok {
		return fmt.Errorf("mailbox message %s not found", id)
	}

	updatedMsg, err := updateFn(clone(msg))
	if err != nil {
		return err
	}
	r.msgs[id] = clone(updatedMsg)
	return nil
}

func (r *mailboxRepositoryImpl) DeleteMessage(_ context.Context, id string) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	delete(r.msgs, id)
	return nil
}

func (r *mailboxRepositoryImpl) findMessages(
	match func(*domain.MailboxMessage) bool,
) []*domain.MailboxMessage {
	msgs := make([]*domain.MailboxMessage, 0)
	for _, m := range r.msgs {
		if match(m) {
			msgs = append(msgs, clone(m))
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt < msgs[j].CreatedAt
	})
	return msgs
}
