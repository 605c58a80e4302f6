package pubsub

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	subsBucket        = []byte("subscriptions")
	subsByTopicBucket = []byte("subscriptionsbytopic")
)

// store persists the subscriptions in a bbolt file. Subscriptions are keyed
// by id in one bucket, and indexed by topic in a bucket of nested buckets.
type store struct {
	db *bolt.DB
}

func newStore(filename string) (*store, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open pubsub store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{subsBucket, subsByTopicBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &store{db}, nil
}

func (s *store) Close() error {
	return s.db.Close()
}

func (s *store) addSubscription(sub *Subscription) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(subsBucket).Put([]byte(sub.ID), sub.Serialize()); err != nil {
			return err
		}
		topic, err := tx.Bucket(subsByTopicBucket).CreateBucketIfNotExists(
			[]byte(sub.Event),
		)
		if err != nil {
			return err
		}
		return topic.Put([]byte(sub.ID), nil)
	})
}

func (s *store) removeSubscription(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		subs := tx.Bucket(subsBucket)
		buf := subs.Get([]byte(id))
		if buf == nil {
			return ErrSubscriptionNotFound
		}
		sub, err := NewSubscriptionFromBytes(buf)
		if err != nil {
			return err
		}
		if err := subs.Delete([]byte(id)); err != nil {
			return err
		}

		byTopic := tx.Bucket(subsByTopicBucket)
		topic := byTopic.Bucket([]byte(sub.Event))
		if topic == nil {
			return nil
		}
		if err := topic.Delete([]byte(id)); err != nil {
			return err
		}
		if k, _ := topic.Cursor().First(); k == nil {
			return byTopic.DeleteBucket([]byte(sub.Event))
		}
		return nil
	})
}

func (s *store) getSubscription(id string) (*Subscription, error) {
	var sub *Subscription
	err := s.db.View(func(tx *bolt.Tx) error {
		buf := tx.Bucket(subsBucket).Get([]byte(id))
		if buf == nil {
			return nil
		}
		var err error
		sub, err = NewSubscriptionFromBytes(buf)
		return err
	})
	return sub, err
}

// getSubscriptionsForTopic returns the subscriptions for the given topic, or
// all of them if the topic is unspecified.
func (s *store) getSubscriptionsForTopic(topic string) (subscriptions, error) {
	subs := make(subscriptions, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		all := tx.Bucket(subsBucket)
		if len(topic) <= 0 {
			return all.ForEach(func(_, v []byte) error {
				sub, err := NewSubscriptionFromBytes(v)
				if err != nil {
					return err
				}
				subs = append(subs, *sub)
				return nil
			})
		}

		byTopic := tx.Bucket(subsByTopicBucket).Bucket([]byte(topic))
		if byTopic == nil {
			return nil
		}
		return byTopic.ForEach(func(id, _ []byte) error {
			sub, err := NewSubscriptionFromBytes(all.Get(id))
			if err != nil {
				return err
			}
			subs = append(subs, *sub)
			return nil
		})
	})
	return subs, err
}
