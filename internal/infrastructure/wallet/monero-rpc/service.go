// Package monerorpc implements the wallet ports on top of monero-wallet-rpc
// and monerod. A wallet-rpc instance can only keep one wallet open at a time,
// so the service holds a pool of instances for the escrow wallets of the
// trades plus a dedicated one for the main wallet.
package monerorpc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/escrowd/internal/core/ports"
)

const (
	walletLanguage = "English"
	openTimeout    = time.Minute
)

var (
	ErrNoEndpointAvailable = errors.New("no wallet rpc endpoint available")
	ErrWalletDirNotSet     = errors.New("wallet dir is not configured")
)

type Config struct {
	// MainWalletAddr is the wallet-rpc instance serving the main wallet.
	MainWalletAddr     string
	MainWalletName     string
	MainWalletPassword string
	// WalletAddrs is the pool of wallet-rpc instances for the escrow wallets.
	WalletAddrs []string
	User        string
	Password    string
	// WalletDir is the --wallet-dir shared by the wallet-rpc instances. It's
	// needed to tell whether an escrow wallet exists and to delete it.
	WalletDir string
}

func (c Config) validate() error {
	if len(c.MainWalletAddr) <= 0 {
		return fmt.Errorf("missing main wallet rpc address")
	}
	if len(c.MainWalletName) <= 0 {
		return fmt.Errorf("missing main wallet name")
	}
	if len(c.WalletAddrs) <= 0 {
		return fmt.Errorf("missing wallet rpc addresses")
	}
	return nil
}

type service struct {
	main      *wallet
	walletDir string

	lock sync.Mutex
	free []*rpcClient
	open map[string]*wallet
}

func NewService(cfg Config) (ports.WalletService, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	mainRPC := newRPCClient(cfg.MainWalletAddr, cfg.User, cfg.Password)
	if err := openOrCreate(
		ctx, mainRPC, cfg.MainWalletName, cfg.MainWalletPassword,
	); err != nil {
		return nil, fmt.Errorf("failed to open main wallet: %w", err)
	}

	free := make([]*rpcClient, 0, len(cfg.WalletAddrs))
	for _, addr := range cfg.WalletAddrs {
		free = append(free, newRPCClient(addr, cfg.User, cfg.Password))
	}
	return &service{
		main:      &wallet{cfg.MainWalletName, mainRPC},
		walletDir: cfg.WalletDir,
		free:      free,
		open:      make(map[string]*wallet),
	}, nil
}

func (s *service) MainWallet() ports.Wallet {
	return s.main
}

func (s *service) CreateWallet(
	ctx context.Context, name, password string,
) (ports.Wallet, error) {
	return s.acquire(ctx, name, func(rpc *rpcClient) error {
		return rpc.call(ctx, "create_wallet", createWalletRequest{
			Filename: name,
			Password: password,
			Language: walletLanguage,
		}, nil)
	})
}

func (s *service) OpenWallet(
	ctx context.Context, name, password string,
) (ports.Wallet, error) {
	return s.acquire(ctx, name, func(rpc *rpcClient) error {
		return rpc.call(ctx, "open_wallet", openWalletRequest{
			Filename: name,
			Password: password,
		}, nil)
	})
}

func (s *service) CloseWallet(ctx context.Context, name string, save bool) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	w, ok := s.open[name]
	if !ok {
		return nil
	}
	err := w.rpc.call(ctx, "close_wallet", closeWalletRequest{save}, nil)
	delete(s.open, name)
	s.free = append(s.free, w.rpc)
	return err
}

func (s *service) DeleteWallet(ctx context.Context, name string) error {
	if len(s.walletDir) <= 0 {
		return ErrWalletDirNotSet
	}
	if err := s.CloseWallet(ctx, name, false); err != nil {
		log.WithError(err).Warnf("failed to close wallet %s before deleting it", name)
	}

	base := filepath.Join(s.walletDir, name)
	for _, filename := range []string{base, base + ".keys", base + ".address.txt"} {
		if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (s *service) WalletExists(_ context.Context, name string) (bool, error) {
	s.lock.Lock()
	_, ok := s.open[name]
	s.lock.Unlock()
	if ok {
		return true, nil
	}
	if len(s.walletDir) <= 0 {
		return false, ErrWalletDirNotSet
	}

	if _, err := os.Stat(filepath.Join(s.walletDir, name+".keys")); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Close closes all the open wallets, saving them.
func (s *service) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	s.lock.Lock()
	names := make([]string, 0, len(s.open))
	for name := range s.open {
		names = append(names, name)
	}
	s.lock.Unlock()

	for _, name := range names {
		if err := s.CloseWallet(ctx, name, true); err != nil {
			log.WithError(err).Warnf("failed to close wallet %s", name)
		}
	}
	if err := s.main.rpc.call(ctx, "close_wallet", closeWalletRequest{true}, nil); err != nil {
		log.WithError(err).Warn("failed to close main wallet")
	}
}

// acquire binds a free endpoint to the named wallet by running the given
// open or create call on it. The endpoint goes back to the pool if the call
// fails.
func (s *service) acquire(
	ctx context.Context, name string, openFn func(*rpcClient) error,
) (ports.Wallet, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if w, ok := s.open[name]; ok {
		return w, nil
	}
	if len(s.free) <= 0 {
		return nil, ErrNoEndpointAvailable
	}

	rpc := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	if err := openFn(rpc); err != nil {
		s.free = append(s.free, rpc)
		return nil, err
	}
	w := &wallet{name, rpc}
	s.open[name] = w
	log.Debugf("wallet %s opened on %s", name, rpc.addr)
	return w, nil
}

func openOrCreate(ctx context.Context, rpc *rpcClient, name, password string) error {
	err := rpc.call(ctx, "open_wallet", openWalletRequest{name, password}, nil)
	if err == nil {
		return nil
	}
	log.WithError(err).Infof("creating new wallet %s", name)
	return rpc.call(ctx, "create_wallet", createWalletRequest{
		Filename: name,
		Password: password,
		Language: walletLanguage,
	}, nil)
}
