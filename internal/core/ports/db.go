package ports

import "github.com/tdex-network/escrowd/internal/core/domain"

// RepoManager gives access to all the repositories of the daemon.
type RepoManager interface {
	TradeRepository() domain.TradeRepository
	OpenOfferRepository() domain.OpenOfferRepository
	DisputeRepository() domain.DisputeRepository
	MailboxRepository() domain.MailboxRepository

	Close()
}
