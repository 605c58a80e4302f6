package simulated

import (
	"context"
	"fmt"
	"sync"

	"github.com/tdex-network/escrowd/internal/core/ports"
)

const mainWalletName = "main"

// Service is a ports.WalletService keeping the wallets of a single node.
// Multiple services sharing the same Ledger form a test network.
type Service struct {
	ledger *Ledger
	main   *Wallet

	lock    sync.Mutex
	wallets map[string]*Wallet
}

func NewService(ledger *Ledger, password string) *Service {
	return &Service{
		ledger:  ledger,
		main:    NewWallet(ledger, mainWalletName, password),
		wallets: make(map[string]*Wallet),
	}
}

func (s *Service) MainWallet() ports.Wallet {
	return s.main
}

// Main returns the concrete main wallet, useful to fund it in tests.
func (s *Service) Main() *Wallet {
	return s.main
}

func (s *Service) CreateWallet(
	_ context.Context, name, password string,
) (ports.Wallet, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.wallets[name]; ok || name == mainWalletName {
		return nil, fmt.Errorf("wallet %s already exists", name)
	}
	w := NewWallet(s.ledger, name, password)
	s.wallets[name] = w
	return w, nil
}

func (s *Service) OpenWallet(
	_ context.Context, name, password string,
) (ports.Wallet, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	w, ok := s.wallets[name]
	if !ok {
		return nil, fmt.Errorf("wallet %s not found", name)
	}
	if err := w.reopen(password); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Service) CloseWallet(_ context.Context, name string, _ bool) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	w, ok := s.wallets[name]
	if !ok {
		return fmt.Errorf("wallet %s not found", name)
	}
	w.close()
	return nil
}

func (s *Service) DeleteWallet(_ context.Context, name string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	w, ok := s.wallets[name]
	if !ok {
		return nil
	}
	w.close()
	delete(s.wallets, name)
	return nil
}

func (s *Service) WalletExists(_ context.Context, name string) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	_, ok := s.wallets[name]
	return ok, nil
}

func (s *Service) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, w := range s.wallets {
		w.close()
	}
}
