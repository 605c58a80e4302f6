package protocol

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/core/ports"
)

// **** Wallet ****

type mockWallet struct {
	mock.Mock
}

func (m *mockWallet) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *mockWallet) PrimaryAddress(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockWallet) NewSubaddress(ctx context.Context, label string) (string, error) {
	args := m.Called(ctx, label)
	return args.String(0), args.Error(1)
}

func (m *mockWallet) Sync(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockWallet) Height(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)

	var res uint64
	if a := args.Get(0); a != nil {
		res = a.(uint64)
	}
	return res, args.Error(1)
}

func (m *mockWallet) Balance(ctx context.Context) (ports.Balance, error) {
	args := m.Called(ctx)

	var res ports.Balance
	if a := args.Get(0); a != nil {
		res = a.(ports.Balance)
	}
	return res, args.Error(1)
}

func (m *mockWallet) PrepareMultisig(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockWallet) MakeMultisig(
	ctx context.Context, peerHexes []string, threshold int, password string,
) (string, error) {
	args := m.Called(ctx, peerHexes, threshold, password)
	return args.String(0), args.Error(1)
}

func (m *mockWallet) ExchangeMultisigKeys(
	ctx context.Context, peerHexes []string, password string,
) (*ports.MultisigInfo, error) {
	args := m.Called(ctx, peerHexes, password)

	var res *ports.MultisigInfo
	if a := args.Get(0); a != nil {
		res = a.(*ports.MultisigInfo)
	}
	return res, args.Error(1)
}

func (m *mockWallet) IsMultisigImportNeeded(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *mockWallet) ExportMultisigHex(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockWallet) ImportMultisigHex(ctx context.Context, hexes []string) (int, error) {
	args := m.Called(ctx, hexes)
	return args.Int(0), args.Error(1)
}

func (m *mockWallet) CreateTx(ctx context.Context, cfg ports.TxConfig) (*ports.Tx, error) {
	args := m.Called(ctx, cfg)

	var res *ports.Tx
	if a := args.Get(0); a != nil {
		res = a.(*ports.Tx)
	}
	return res, args.Error(1)
}

func (m *mockWallet) SignMultisigTxHex(
	ctx context.Context, txSetHex string,
) (*ports.SignedTxSet, error) {
	args := m.Called(ctx, txSetHex)

	var res *ports.SignedTxSet
	if a := args.Get(0); a != nil {
		res = a.(*ports.SignedTxSet)
	}
	return res, args.Error(1)
}

func (m *mockWallet) SubmitMultisigTxHex(ctx context.Context, txSetHex string) ([]string, error) {
	args := m.Called(ctx, txSetHex)

	var res []string
	if a := args.Get(0); a != nil {
		res = a.([]string)
	}
	return res, args.Error(1)
}

func (m *mockWallet) DescribeTxSet(ctx context.Context, txSetHex string) (*ports.Tx, error) {
	args := m.Called(ctx, txSetHex)

	var res *ports.Tx
	if a := args.Get(0); a != nil {
		res = a.(*ports.Tx)
	}
	return res, args.Error(1)
}

func (m *mockWallet) GetTx(ctx context.Context, hash string) (*ports.Tx, error) {
	args := m.Called(ctx, hash)

	var res *ports.Tx
	if a := args.Get(0); a != nil {
		res = a.(*ports.Tx)
	}
	return res, args.Error(1)
}

func (m *mockWallet) GetTxs(ctx context.Context, hashes []string) ([]*ports.Tx, error) {
	args := m.Called(ctx, hashes)

	var res []*ports.Tx
	if a := args.Get(0); a != nil {
		res = a.([]*ports.Tx)
	}
	return res, args.Error(1)
}

func (m *mockWallet) GetOutgoingTxs(ctx context.Context) ([]*ports.Tx, error) {
	args := m.Called(ctx)

	var res []*ports.Tx
	if a := args.Get(0); a != nil {
		res = a.([]*ports.Tx)
	}
	return res, args.Error(1)
}

func (m *mockWallet) CheckTxKey(
	ctx context.Context, hash, key, address string,
) (*ports.TxKeyCheck, error) {
	args := m.Called(ctx, hash, key, address)

	var res *ports.TxKeyCheck
	if a := args.Get(0); a != nil {
		res = a.(*ports.TxKeyCheck)
	}
	return res, args.Error(1)
}

func (m *mockWallet) FreezeKeyImages(ctx context.Context, keyImages []string) error {
	args := m.Called(ctx, keyImages)
	return args.Error(0)
}

func (m *mockWallet) ThawKeyImages(ctx context.Context, keyImages []string) error {
	args := m.Called(ctx, keyImages)
	return args.Error(0)
}

// **** Daemon ****

type mockDaemon struct {
	mock.Mock
}

func (m *mockDaemon) SubmitTxHex(
	ctx context.Context, txHex string, doNotRelay bool,
) (*ports.SubmitResult, error) {
	args := m.Called(ctx, txHex, doNotRelay)

	var res *ports.SubmitResult
	if a := args.Get(0); a != nil {
		res = a.(*ports.SubmitResult)
	}
	return res, args.Error(1)
}

func (m *mockDaemon) RelayTxsByHash(ctx context.Context, hashes []string) error {
	args := m.Called(ctx, hashes)
	return args.Error(0)
}

func (m *mockDaemon) GetTxs(ctx context.Context, hashes []string) ([]*ports.Tx, error) {
	args := m.Called(ctx, hashes)

	var res []*ports.Tx
	if a := args.Get(0); a != nil {
		res = a.([]*ports.Tx)
	}
	return res, args.Error(1)
}

func (m *mockDaemon) Height(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)

	var res uint64
	if a := args.Get(0); a != nil {
		res = a.(uint64)
	}
	return res, args.Error(1)
}

// **** TradeStore ****

type mockTradeStore struct {
	lock   sync.Mutex
	saves  int
	events []TradeEvent
}

func (s *mockTradeStore) SaveTrade(_ context.Context, _ *domain.Trade) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.saves++
	return nil
}

func (s *mockTradeStore) PublishEvent(_ *domain.Trade, event TradeEvent) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.events = append(s.events, event)
}

func (s *mockTradeStore) eventTypes() []EventType {
	s.lock.Lock()
	defer s.lock.Unlock()
	types := make([]EventType, 0, len(s.events))
	for _, ev := range s.events {
		types = append(types, ev.Type)
	}
	return types
}
