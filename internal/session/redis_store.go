package session

import (
	"context"
	"encoding/base32"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/redis/go-redis/v9"
)

const redisOpTimeout = 2 * time.Second

// RedisStore keeps session values in Redis. The cookie only carries a
// signed session id.
type RedisStore struct {
	Options *sessions.Options

	client     *redis.Client
	codecs     []securecookie.Codec
	serializer securecookie.GobEncoder
	prefix     string
}

var _ sessions.Store = (*RedisStore)(nil)

// NewRedisStore signs session ids with keyPairs, as securecookie.CodecsFromPairs does.
func NewRedisStore(client *redis.Client, prefix string, opts sessions.Options, keyPairs ...[]byte) *RedisStore {
	codecs := securecookie.CodecsFromPairs(keyPairs...)
	for _, c := range codecs {
		if sc, ok := c.(*securecookie.SecureCookie); ok {
			sc.MaxAge(opts.MaxAge)
		}
	}

	return &RedisStore{
		Options: &opts,
		client:  client,
		codecs:  codecs,
		prefix:  prefix,
	}
}

// Get returns the session cached for this request or loads it.
func (s *RedisStore) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(s, name)
}

// New loads the session named by the request cookie, or starts an empty
// one when the cookie is missing, forged or points at an expired key.
func (s *RedisStore) New(r *http.Request, name string) (*sessions.Session, error) {
	sess := sessions.NewSession(s, name)
	opts := *s.Options
	sess.Options = &opts
	sess.IsNew = true

	cookie, err := r.Cookie(name)
	if err != nil {
		return sess, nil
	}

	if err := securecookie.DecodeMulti(name, cookie.Value, &sess.ID, s.codecs...); err != nil {
		sess.ID = ""
		return sess, nil
	}

	found, err := s.load(r.Context(), sess)
	if err != nil {
		return sess, err
	}
	if !found {
		sess.ID = ""
		return sess, nil
	}

	sess.IsNew = false
	return sess, nil
}

// Save writes the values to Redis and refreshes the cookie. A negative
// MaxAge deletes both; the expired cookie is written even when Redis fails.
func (s *RedisStore) Save(r *http.Request, w http.ResponseWriter, sess *sessions.Session) error {
	if sess.Options.MaxAge < 0 {
		http.SetCookie(w, sessions.NewCookie(sess.Name(), "", sess.Options))
		if sess.ID == "" {
			return nil
		}
		return s.delete(r.Context(), sess.ID)
	}

	if sess.ID == "" {
		sess.ID = newSessionID()
	}

	if err := s.store(r.Context(), sess); err != nil {
		return err
	}

	encoded, err := securecookie.EncodeMulti(sess.Name(), sess.ID, s.codecs...)
	if err != nil {
		return fmt.Errorf("failed to sign session id: %w", err)
	}

	http.SetCookie(w, sessions.NewCookie(sess.Name(), encoded, sess.Options))
	return nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) load(ctx context.Context, sess *sessions.Session) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.key(sess.ID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load session: %w", err)
	}

	if err := s.serializer.Deserialize(data, &sess.Values); err != nil {
		// values written by an incompatible build are dropped
		return false, nil
	}
	return true, nil
}

func (s *RedisStore) store(ctx context.Context, sess *sessions.Session) error {
	data, err := s.serializer.Serialize(sess.Values)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	ttl := time.Duration(sess.Options.MaxAge) * time.Second
	if err := s.client.Set(ctx, s.key(sess.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (s *RedisStore) delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func newSessionID() string {
	return strings.TrimRight(base32.StdEncoding.EncodeToString(securecookie.GenerateRandomKey(32)), "=")
}
