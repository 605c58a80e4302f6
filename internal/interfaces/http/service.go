package httpinterface

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/escrowd/internal/core/application"
	"github.com/tdex-network/escrowd/internal/core/domain"
	interfaces "github.com/tdex-network/escrowd/internal/interfaces"
)

const (
	apiPrefix         = "/api/v1"
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// NodeInfo is the static identity of the local node.
type NodeInfo interface {
	NodeAddress() string
	PubKeyRing() domain.PubKeyRing
}

type ServiceOpts struct {
	Address string
	// JWTSecret is the HMAC secret of the bearer tokens. Authentication is
	// disabled if NoAuth is set.
	JWTSecret []byte
	NoAuth    bool

	IsArbitrator          bool
	ArbitratorNodeAddress string

	Node     NodeInfo
	TradeSvc application.TradeService
	// PubSubSvc is optional, webhook endpoints fail if not defined.
	PubSubSvc application.PubSubService
	// Gatherer exposes the metrics at /metrics if defined.
	Gatherer prometheus.Gatherer
}

func (o ServiceOpts) validate() error {
	if len(o.Address) <= 0 {
		return fmt.Errorf("missing listening address")
	}
	if !o.NoAuth && len(o.JWTSecret) <= 0 {
		return fmt.Errorf("missing jwt secret")
	}
	if o.Node == nil {
		return fmt.Errorf("missing node info")
	}
	if o.TradeSvc == nil {
		return fmt.Errorf("missing trade service")
	}
	return nil
}

type service struct {
	opts   ServiceOpts
	server *http.Server
}

// NewService returns the operator HTTP interface of the daemon.
func NewService(opts ServiceOpts) (interfaces.Service, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid opts: %s", err)
	}
	svc := &service{opts: opts}
	svc.server = &http.Server{
		Addr:              opts.Address,
		Handler:           svc.router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return svc, nil
}

func (s *service) Start() error {
	lis, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return err
	}
	if s.opts.NoAuth {
		log.Warn("operator interface started without authentication")
	}

	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("operator interface stopped unexpectedly")
		}
	}()
	log.Infof("operator interface is listening on %s", lis.Addr())
	return nil
}

func (s *service) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("failed to gracefully stop operator interface")
		return
	}
	log.Debug("stopped operator interface")
}

func (s *service) router() http.Handler {
	h := &handler{
		isArbitrator:          s.opts.IsArbitrator,
		arbitratorNodeAddress: s.opts.ArbitratorNodeAddress,
		node:                  s.opts.Node,
		tradeSvc:              s.opts.TradeSvc,
		pubsubSvc:             s.opts.PubSubSvc,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route(apiPrefix, func(r chi.Router) {
		if !s.opts.NoAuth {
			r.Use(authenticator(s.opts.JWTSecret))
		}
		r.Get("/info", h.getInfo)

		r.Get("/offers", h.listOpenOffers)
		r.Post("/offers", h.placeOffer)
		r.Post("/offers/take", h.takeOffer)
		r.Delete("/offers/{id}", h.cancelOffer)

		r.Get("/trades", h.listTrades)
		r.Route("/trades/{id}", func(r chi.Router) {
			r.Get("/", h.getTrade)
			r.Post("/payment-sent", h.confirmPaymentSent)
			r.Post("/payment-received", h.confirmPaymentReceived)
			r.Get("/dispute", h.getDispute)
			r.Post("/dispute", h.openDispute)
			r.Post("/dispute/close", h.closeDispute)
		})
		r.Get("/disputes", h.listDisputes)

		r.Get("/webhooks", h.listWebhooks)
		r.Post("/webhooks", h.addWebhook)
		r.Delete("/webhooks/{id}", h.removeWebhook)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debugf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
