// Package valkey implements kvstore.Store on a Valkey (or Redis) server so
// that several gateway instances can share limiter, breaker and cache state.
package valkey

import (
	"context"
	"fmt"
	"strings"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/eyecheck/gateway/pkg/kvstore"
)

// DefaultConnectTimeout is the maximum time to wait for the initial ping.
const DefaultConnectTimeout = 5 * time.Second

// Config holds connection settings.
type Config struct {
	Address        string
	Password       string
	DB             int
	KeyPrefix      string
	ConnectTimeout time.Duration
}

// Store wraps a valkey-go client. Keys are namespaced with KeyPrefix.
type Store struct {
	inner     valkeylib.Client
	keyPrefix string
}

// New connects to the server and verifies it with a ping.
func New(cfg Config) (*Store, error) {
	opts := valkeylib.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	inner, err := valkeylib.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("create valkey client: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := inner.Do(ctx, inner.B().Ping().Build()).Error(); err != nil {
		inner.Close()
		return nil, fmt.Errorf("ping valkey (timeout: %v): %w", timeout, err)
	}

	prefix := cfg.KeyPrefix
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &Store{inner: inner, keyPrefix: prefix}, nil
}

func (s *Store) fullKey(key string) string {
	return s.keyPrefix + key
}

// Get retrieves a value. Returns kvstore.ErrNotFound on a nil reply.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.inner.Do(ctx, s.inner.B().Get().Key(s.fullKey(key)).Build()).AsBytes()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return nil, kvstore.ErrNotFound
		}
		return nil, fmt.Errorf("valkey get: %w", err)
	}
	return data, nil
}

// Put stores a value. Sub-second TTLs are rounded up to one second, the
// smallest expiry SET EX accepts.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	set := s.inner.B().Set().Key(s.fullKey(key)).Value(valkeylib.BinaryString(value))

	var err error
	if ttl > 0 {
		if ttl < time.Second {
			ttl = time.Second
		}
		err = s.inner.Do(ctx, set.Ex(ttl).Build()).Error()
	} else {
		err = s.inner.Do(ctx, set.Build()).Error()
	}
	if err != nil {
		return fmt.Errorf("valkey set: %w", err)
	}
	return nil
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.inner.Do(ctx, s.inner.B().Del().Key(s.fullKey(key)).Build()).Error(); err != nil {
		return fmt.Errorf("valkey del: %w", err)
	}
	return nil
}

func (s *Store) scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		cmd := s.inner.B().Scan().Cursor(cursor).Match(s.fullKey(prefix) + "*").Count(100).Build()
		result, err := s.inner.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("valkey scan: %w", err)
		}
		keys = append(keys, result.Elements...)
		cursor = result.Cursor
		if cursor == 0 {
			return keys, nil
		}
	}
}

// Len counts keys with the given prefix.
func (s *Store) Len(ctx context.Context, prefix string) (int64, error) {
	keys, err := s.scan(ctx, prefix)
	if err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

// Clear removes keys with the given prefix. Valkey expires keys natively, so
// an expired-only clear has nothing to do.
func (s *Store) Clear(ctx context.Context, prefix string, expiredOnly bool) error {
	if expiredOnly {
		return nil
	}
	keys, err := s.scan(ctx, prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.inner.Do(ctx, s.inner.B().Del().Key(keys...).Build()).Error(); err != nil {
		return fmt.Errorf("valkey del: %w", err)
	}
	return nil
}

// Close closes the connection.
func (s *Store) Close() error {
	s.inner.Close()
	return nil
}

var (
	_ kvstore.Store      = (*Store)(nil)
	_ kvstore.Maintainer = (*Store)(nil)
)
