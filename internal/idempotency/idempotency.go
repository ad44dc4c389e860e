package idempotency

import (
	"context"
	"net/http"
	"time"

	redisadapter "github.com/atl5d/pwyc-booking/internal/adapters/redis"
)

// Store is the persistence behind Idempotency. The Redis adapter satisfies it.
type Store interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Idempotency struct {
	store Store
	ttl   time.Duration
}

func NewIdempotency(store Store, ttl time.Duration) *Idempotency {
	return &Idempotency{store: store, ttl: ttl}
}

type Response struct {
	Status int
	Header http.Header
	Result []byte
}

func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	stored, err := i.store.Get(ctx, key)
	if err != nil || stored == nil {
		return nil, err
	}
	return &Response{Status: stored.Status, Header: stored.Header, Result: stored.Result}, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	return i.store.Set(ctx, key, redisadapter.IdempResponse{
		Status: resp.Status,
		Header: resp.Header,
		Result: resp.Result,
	}, i.ttl)
}

// Begin reserves key for an in-flight request. It reports false when another
// request holds the key.
func (i *Idempotency) Begin(ctx context.Context, key string) (bool, error) {
	return i.store.Lock(ctx, key, time.Minute)
}

func (i *Idempotency) End(ctx context.Context, key string) error {
	return i.store.Unlock(ctx, key)
}
