// Package tokencache provides a bbolt-backed session.TokenCache. Tokens
// and timestamps survive restarts in a single-file database under the
// user's home directory.
package tokencache

import (
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/trezcool/maabara/core/session"
)

var (
	sessionBucket = []byte("session")
	messageBucket = []byte("messages")

	keyIDToken           = []byte("idToken")
	keyAccessToken       = []byte("accessToken")
	keyRefreshToken      = []byte("refreshToken")
	keyLastRefreshTime   = []byte("lastRefreshTime")
	keyInitialSignInTime = []byte("initialSignInTime")
)

// Cache implements session.TokenCache backed by a bbolt database.
type Cache struct {
	db *bbolt.DB
}

var _ session.TokenCache = (*Cache)(nil)

func NewCache(db *bbolt.DB) *Cache {
	return &Cache{db: db}
}

// NewCacheFromFile opens (creating if needed) the database at path.
func NewCacheFromFile(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening token cache at %s", path)
	}
	return NewCache(db), nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) Load() (session.Session, error) {
	var sess session.Session
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		if b == nil {
			return nil
		}
		sess.IDToken = string(b.Get(keyIDToken))
		sess.AccessToken = string(b.Get(keyAccessToken))
		sess.RefreshToken = string(b.Get(keyRefreshToken))
		sess.LastRefreshTime = parseTime(b.Get(keyLastRefreshTime))
		sess.InitialSignInTime = parseTime(b.Get(keyInitialSignInTime))
		return nil
	})
	if err != nil {
		return session.Session{}, errors.Wrap(err, "loading session")
	}
	return sess, nil
}

func (c *Cache) Save(sess session.Session) error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(sessionBucket)
		if err != nil {
			return err
		}
		pairs := map[string][]byte{
			string(keyIDToken):           []byte(sess.IDToken),
			string(keyAccessToken):       []byte(sess.AccessToken),
			string(keyRefreshToken):      []byte(sess.RefreshToken),
			string(keyLastRefreshTime):   formatTime(sess.LastRefreshTime),
			string(keyInitialSignInTime): formatTime(sess.InitialSignInTime),
		}
		for k, v := range pairs {
			if err = b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrap(err, "saving session")
}

// Clear drops the session bucket; clearing an empty cache is a no-op.
func (c *Cache) Clear() error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(sessionBucket) == nil {
			return nil
		}
		return tx.DeleteBucket(sessionBucket)
	})
	return errors.Wrap(err, "clearing session")
}

func (c *Cache) PutMessage(key, msg string) error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(messageBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(msg))
	})
	return errors.Wrapf(err, "storing message %s", key)
}

// TakeMessage returns and deletes the message under key; an absent key
// yields the empty string.
func (c *Cache) TakeMessage(key string) (string, error) {
	var msg string
	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(messageBucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			msg = string(v)
			return b.Delete([]byte(key))
		}
		return nil
	})
	if err != nil {
		return "", errors.Wrapf(err, "taking message %s", key)
	}
	return msg, nil
}

func parseTime(v []byte) time.Time {
	if len(v) == 0 {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, string(v))
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) []byte {
	if t.IsZero() {
		return nil
	}
	return []byte(t.Format(time.RFC3339Nano))
}
