// Package session holds the broker's ephemeral correlation state: CSRF
// nonces for in-flight logins and completed sessions keyed by their
// retrieval token. Everything in here is process-local and TTL-evicted;
// nothing survives a broker restart.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/guard-project/guard/internal"
)

const (
	// DefaultNonceTTL bounds how long a browser round trip to the identity
	// provider may take before the login has to be restarted.
	DefaultNonceTTL = 5 * time.Minute
	// DefaultSessionTTL bounds how long a session token remains usable.
	// Reads do not extend it.
	DefaultSessionTTL = 24 * time.Hour
)

// Store maps login nonces and session tokens to their state. Both caches
// are safe for concurrent use and evict on TTL expiry.
type Store struct {
	nonces   *ttlcache.Cache[string, struct{}]
	sessions *ttlcache.Cache[string, *internal.Session]
	nonceTTL time.Duration

	numSessions prometheus.GaugeFunc
}

func NewStore(nonceTTL, sessionTTL time.Duration, enablePrometheus bool) *Store {
	s := &Store{
		nonceTTL: nonceTTL,
		nonces: ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](nonceTTL),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		),
		sessions: ttlcache.New[string, *internal.Session](
			ttlcache.WithTTL[string, *internal.Session](sessionTTL),
			ttlcache.WithDisableTouchOnHit[string, *internal.Session](),
		),
	}
	go s.nonces.Start()
	go s.sessions.Start()
	if enablePrometheus {
		s.numSessions = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "guard",
			Subsystem: "broker",
			Name:      "num_sessions",
			Help:      "Number of live sessions",
		}, func() float64 {
			return float64(s.sessions.Len())
		})
		prometheus.MustRegister(s.numSessions)
	}
	return s
}

// NonceTTL is how long a minted nonce stays valid. The login handler uses
// it to give the requester-binding cookie the same lifetime.
func (s *Store) NonceTTL() time.Duration {
	return s.nonceTTL
}

// NewLoginNonce mints and remembers a fresh CSRF nonce for a login attempt.
func (s *Store) NewLoginNonce() (string, error) {
	nonce, err := randomToken(16)
	if err != nil {
		return "", err
	}
	s.nonces.Set(nonce, struct{}{}, ttlcache.DefaultTTL)
	return nonce, nil
}

// ConsumeNonce checks that this nonce belongs to an in-flight login and
// invalidates it. A nonce can be consumed exactly once: replaying the
// provider callback fails the state check the second time.
func (s *Store) ConsumeNonce(nonce string) bool {
	item := s.nonces.Get(nonce)
	if item == nil {
		return false
	}
	s.nonces.Delete(nonce)
	return true
}

// NewSession stores the session and returns the freshly minted retrieval
// token. The token doubles as a bearer credential so it is longer than the
// CSRF nonce.
func (s *Store) NewSession(sess *internal.Session) (string, error) {
	token, err := randomToken(32)
	if err != nil {
		return "", err
	}
	if s.sessions.Has(token) {
		// 256 bits of randomness colliding means the RNG is broken
		return "", fmt.Errorf("session token collision")
	}
	s.sessions.Set(token, sess, ttlcache.DefaultTTL)
	return token, nil
}

// Session returns the session for this token, or nil if the token is
// unknown or has expired. Callers must verify the bound host themselves.
func (s *Store) Session(token string) *internal.Session {
	item := s.sessions.Get(token)
	if item == nil {
		return nil
	}
	return item.Value()
}

func (s *Store) Teardown() {
	s.nonces.Stop()
	s.sessions.Stop()
	if s.numSessions != nil {
		prometheus.Unregister(s.numSessions)
	}
}

func randomToken(nbytes int) (string, error) {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
