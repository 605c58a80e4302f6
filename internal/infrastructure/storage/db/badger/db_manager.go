package dbbadger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/core/ports"
	"github.com/timshannon/badgerhold/v4"
)

const (
	tradeStoreDir   = "trades"
	offerStoreDir   = "offers"
	disputeStoreDir = "disputes"
	mailboxStoreDir = "mailbox"

	gcInterval = 30 * time.Minute
)

type repoManager struct {
	stores []*badgerhold.Store
	quit   chan struct{}

	tradeRepository     domain.TradeRepository
	openOfferRepository domain.OpenOfferRepository
	disputeRepository   domain.DisputeRepository
	mailboxRepository   domain.MailboxRepository
}

// NewRepoManager opens (or creates if not exists) the badger stores on disk.
// It expects a base data dir and an optional logger. An empty dir makes all
// stores live in memory.
func NewRepoManager(baseDbDir string, logger badger.Logger) (ports.RepoManager, error) {
	tradeDb, err := createDb(storeDir(baseDbDir, tradeStoreDir), logger)
	if err != nil {
		return nil, fmt.Errorf("opening trade db: %w", err)
	}

	offerDb, err := createDb(storeDir(baseDbDir, offerStoreDir), logger)
	if err != nil {
		tradeDb.Close()
		return nil, fmt.Errorf("opening offer db: %w", err)
	}

	disputeDb, err := createDb(storeDir(baseDbDir, disputeStoreDir), logger)
	if err != nil {
		tradeDb.Close()
		offerDb.Close()
		return nil, fmt.Errorf("opening dispute db: %w", err)
	}

	mailboxDb, err := createDb(storeDir(baseDbDir, mailboxStoreDir), logger)
	if err != nil {
		tradeDb.Close()
		offerDb.Close()
		disputeDb.Close()
		return nil, fmt.Errorf("opening mailbox db: %w", err)
	}

	rm := &repoManager{
		stores:              []*badgerhold.Store{tradeDb, offerDb, disputeDb, mailboxDb},
		quit:                make(chan struct{}),
		tradeRepository:     NewTradeRepositoryImpl(tradeDb),
		openOfferRepository: NewOpenOfferRepositoryImpl(offerDb),
		disputeRepository:   NewDisputeRepositoryImpl(disputeDb),
		mailboxRepository:   NewMailboxRepositoryImpl(mailboxDb),
	}
	if len(baseDbDir) > 0 {
		go rm.runValueLogGC()
	}
	return rm, nil
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

func (r *repoManager) Close() {
	close(r.quit)
	for _, store := range r.stores {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("failed to close badger store")
		}
	}
}

func (r *repoManager) runValueLogGC() {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.quit:
			return
		case <-ticker.C:
			for _, store := range r.stores {
				err := store.Badger().RunValueLogGC(0.5)
				if err != nil && err != badger.ErrNoRewrite {
					log.WithError(err).Warn("badger value log gc failed")
				}
			}
		}
	}
}

// JSONEncode is a custom JSON based encoder for badger
func JSONEncode(value interface{}) ([]byte, error) {
	var buff bytes.Buffer

	en := json.NewEncoder(&buff)

	err := en.Encode(value)
	if err != nil {
		return nil, err
	}

	return buff.Bytes(), nil
}

// JSONDecode is a custom JSON based decoder for badger
func JSONDecode(data []byte, value interface{}) error {
	return json.NewDecoder(bytes.NewReader(data)).Decode(value)
}

func storeDir(baseDbDir, name string) string {
	if len(baseDbDir) <= 0 {
		return ""
	}
	return filepath.Join(baseDbDir, name)
}

func createDb(dbDir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger
	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	return badgerhold.Open(badgerhold.Options{
		Encoder:          JSONEncode,
		Decoder:          JSONDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
}
