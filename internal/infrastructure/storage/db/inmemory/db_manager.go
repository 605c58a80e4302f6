package inmemory

import (
	"encoding/json"

	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/core/ports"
)

type repoManager struct {
	tradeRepository     domain.TradeRepository
	openOfferRepository domain.OpenOfferRepository
	disputeRepository   domain.DisputeRepository
	mailboxRepository   domain.MailboxRepository
}

func NewRepoManager() ports.RepoManager {
	return &repoManager{
		tradeRepository:     NewTradeRepositoryImpl(),
		openOfferRepository: NewOpenOfferRepositoryImpl(),
		disputeRepository:   NewDisputeRepositoryImpl(),
		mailboxRepository:   NewMailboxRepositoryImpl(),
	}
}

func (r *repoManager) TradeRepository() domain.TradeRepository {
	return r.tradeRepository
}

func (r *repoManager) OpenOfferRepository() domain.OpenOfferRepository {
	return r.openOfferRepository
}

func (r *repoManager) DisputeRepository() domain.DisputeRepository {
	return r.disputeRepository
}

func (r *repoManager) MailboxRepository() domain.MailboxRepository {
	return r.mailboxRepository
}

func (r *repoManager) Close() {}

// clone returns a deep copy of v so that callers never share memory with the
// stored records, the same way a serializing store behaves.
func clone[T any](v *T) *T {
	buf, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var c T
	if err := json.Unmarshal(buf, &c); err != nil {
		panic(err)
	}
	return &c
}
