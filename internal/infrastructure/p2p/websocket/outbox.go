package wstransport

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/infrastructure/p2p"
)

func (s *service) resendLoop(quitChan chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ResendInterval)
	defer ticker.Stop()

	s.flushOutbox()
	for {
		select {
		case <-quitChan:
			return
		case <-ticker.C:
			s.flushOutbox()
		}
	}
}

// flushOutbox resends the stored messages, all the ones for the same
// recipient in a single mailbox frame.
func (s *service) flushOutbox() {
	ctx := context.Background()

	msgs, err := s.cfg.Outbox.GetAllMessages(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to read outbox")
		return
	}

	recipients := make([]string, 0)
	msgsByRecipient := make(map[string][]*domain.MailboxMessage)
	for _, m := range msgs {
		if _, ok := msgsByRecipient[m.RecipientAddress]; !ok {
			recipients = append(recipients, m.RecipientAddress)
		}
		msgsByRecipient[m.RecipientAddress] = append(msgsByRecipient[m.RecipientAddress], m)
	}

	for _, recipient := range recipients {
		pending := msgsByRecipient[recipient]
		envs := make([]*p2p.Envelope, 0, len(pending))
		for _, m := range pending {
			env := &p2p.Envelope{}
			if err := json.Unmarshal(m.Payload, env); err != nil {
				log.WithError(err).Warnf("dropping malformed outbox message %s", m.Id)
				s.deleteOutboxMessage(ctx, m.Id)
				continue
			}
			envs = append(envs, env)
		}
		if len(envs) <= 0 {
			continue
		}

		if err := s.send(ctx, recipient, frameMailbox, envs); err != nil {
			log.WithError(err).Debugf(
				"failed to resend %d outbox messages to %s", len(envs), recipient,
			)
			s.markAttempt(ctx, pending)
			continue
		}

		log.Debugf("delivered %d outbox messages to %s", len(envs), recipient)
		for _, m := range pending {
			s.deleteOutboxMessage(ctx, m.Id)
		}
	}
}

func (s *service) markAttempt(ctx context.Context, msgs []*domain.MailboxMessage) {
	now := time.Now().Unix()
	for _, m := range msgs {
		if err := s.cfg.Outbox.UpdateMessage(
			ctx, m.Id, func(m *domain.MailboxMessage) (*domain.MailboxMessage, error) {
				m.Attempts++
				m.LastAttemptAt = now
				return m, nil
			},
		); err != nil {
			log.WithError(err).Warnf("failed to update outbox message %s", m.Id)
		}
	}
}

func (s *service) deleteOutboxMessage(ctx context.Context, id string) {
	if err := s.cfg.Outbox.DeleteMessage(ctx, id); err != nil {
		log.WithError(err).Warnf("failed to delete outbox message %s", id)
	}
}
