package dbbadger

import (
	"context"
	"errors"
	"sort"

	"github.com/dgraph-io/badger/v3"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type mailboxRepositoryImpl struct {
	store *badgerhold.Store
}

func NewMailboxRepositoryImpl(store *badgerhold.Store) domain.MailboxRepository {
	return &mailboxRepositoryImpl{store}
}

func (r *mailboxRepositoryImpl) AddMessage(
	_ context.Context, msg *domain.MailboxMessage,
) error {
	return r.store.Insert(msg.Id, *msg)
}

func (r *mailboxRepositoryImpl) GetMessagesForRecipient(
	_ context.Context, address string,
) ([]*domain.MailboxMessage, error) {
	return r.findMessages(badgerhold.Where("RecipientAddress").Eq(address))
}

func (r *mailboxRepositoryImpl) GetAllMessages(
	_ context.Context,
) ([]*domain.MailboxMessage, error) {
	return r.findMessages(nil)
}

func (r *mailboxRepositoryImpl) UpdateMessage(
	_ context.Context,
	id string,
	updateFn func(m *domain.MailboxMessage) (*domain.MailboxMessage, error),
) error {
	return r.store.Badger().Update(func(tx *badger.Txn) error {
		var msg domain.MailboxMessage
		if err := r.store.TxGet(tx, id, &msg); err != nil {
			return err
		}

		updatedMsg, err := updateFn(&msg)
		if err != nil {
			return err
		}
		return r.store.TxUpdate(tx, id, *updatedMsg)
	})
}

func (r *mailboxRepositoryImpl) DeleteMessage(_ context.Context, id string) error {
	err := r.store.Delete(id, domain.MailboxMessage{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return err
	}
	return nil
}

// findMessages returns the matching messages, oldest first.
func (r *mailboxRepositoryImpl) findMessages(
	query *badgerhold.Query,
) ([]*domain.MailboxMessage, error) {
	var msgs []domain.MailboxMessage
	if err := r.store.Find(&msgs, query); err != nil {
		return nil, err
	}

	res := make([]*domain.MailboxMessage, 0, len(msgs))
	for i := range msgs {
		res = append(res, &msgs[i])
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt < res[j].CreatedAt
	})
	return res, nil
}
