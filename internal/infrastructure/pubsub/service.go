// Package pubsub is a webhook based ports.SecurePubSub. Subscriptions are
// kept in a bbolt file, and every published message is POSTed to the
// endpoints subscribed for its topic or for any topic.
package pubsub

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/sony/gobreaker"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/escrowd/internal/core/ports"
	"github.com/tdex-network/escrowd/pkg/circuitbreaker"
	"golang.org/x/sync/errgroup"
)

const (
	requestTimeout = 15 * time.Second
	tokenLifetime  = time.Minute
)

type service struct {
	store      *store
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
}

func NewService(filename string) (ports.SecurePubSub, error) {
	if len(filename) <= 0 {
		return nil, fmt.Errorf("missing store filename")
	}
	s, err := newStore(filename)
	if err != nil {
		return nil, err
	}

	return &service{
		store:      s,
		httpClient: &http.Client{Timeout: requestTimeout},
		cb: circuitbreaker.NewCircuitBreaker(
			"webhook", func(name string, from, to gobreaker.State) {
				log.Warnf("%s circuit breaker changed state from %s to %s", name, from, to)
			},
		),
	}, nil
}

func (ws *service) Store() ports.PubSubStore {
	return ws.store
}

func (ws *service) Subscribe(topic, endpoint, secret string) (string, error) {
	sub, err := NewSubscription(topic, endpoint, secret)
	if err != nil {
		return "", err
	}
	if err := ws.store.addSubscription(sub); err != nil {
		return "", err
	}
	return sub.ID, nil
}

func (ws *service) Unsubscribe(_, id string) error {
	return ws.store.removeSubscription(id)
}

func (ws *service) ListSubscriptionsForTopic(topic string) []ports.Subscription {
	return ws.listSubscriptionsForTopic(topic).toPortable()
}

// Publish notifies all the subscribers of the topic concurrently. It returns
// the first failure, if any, after all the requests completed.
func (ws *service) Publish(topic string, message string) error {
	subs := ws.listSubscriptionsForTopic(topic)

	eg := &errgroup.Group{}
	for i := range subs {
		sub := subs[i]
		eg.Go(func() error { return ws.doRequest(sub, topic, message) })
	}
	return eg.Wait()
}

func (ws *service) listSubscriptionsForTopic(topic string) subscriptions {
	subs, err := ws.store.getSubscriptionsForTopic(topic)
	if err != nil {
		log.WithError(err).Warnf("failed to read subscriptions for topic %s", topic)
		return nil
	}
	if topic != ports.AnyTopic && topic != ports.UnspecifiedTopic {
		subsForAnyTopic, err := ws.store.getSubscriptionsForTopic(ports.AnyTopic)
		if err != nil {
			log.WithError(err).Warn("failed to read subscriptions for any topic")
		}
		subs = append(subs, subsForAnyTopic...)
	}
	sort.SliceStable(subs, func(i, j int) bool {
		return subs[i].ID < subs[j].ID
	})
	return subs
}

func (ws *service) doRequest(sub Subscription, topic, payload string) error {
	_, err := ws.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequest(http.MethodPost, sub.Endpoint, strings.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if sub.IsSecured() {
			now := time.Now()
			token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{
				Subject:   topic,
				IssuedAt:  now.Unix(),
				ExpiresAt: now.Add(tokenLifetime).Unix(),
			})
			tokenString, err := token.SignedString([]byte(sub.Secret))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", tokenString))
		}

		resp, err := ws.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("webhook %s: %s", sub.Endpoint, string(body))
		}
		return nil, nil
	})
	return err
}
