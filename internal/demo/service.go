// Package demo gates free generations behind a monthly per-profile quota.
// The counter lives in redis and is reserved atomically so concurrent
// submissions can never exceed the limit.
package demo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/config"
	pkgerrors "github.com/mediaforge-ai/mediaforge-backend/pkg/errors"
)

// reserveScript increments the counter and rolls back in the same call when
// the limit is already spent. Returns the remaining quota, or -1 when denied.
const reserveScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  redis.call("DECR", KEYS[1])
  return -1
end
return tonumber(ARGV[1]) - current
`

// releaseScript undoes one reservation without ever going below zero.
const releaseScript = `
local current = redis.call("GET", KEYS[1])
if current and tonumber(current) > 0 then
  return redis.call("DECR", KEYS[1])
end
return 0
`

// Reservation reports the outcome of a quota reservation.
type Reservation struct {
	Remaining int
	Exhausted bool
}

// Status reports current quota consumption for a profile.
type Status struct {
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Period    string `json:"period"`
}

// Service manages the monthly demo quota.
type Service interface {
	Reserve(ctx context.Context, profileID uuid.UUID) (*Reservation, error)
	Release(ctx context.Context, profileID uuid.UUID) error
	Status(ctx context.Context, profileID uuid.UUID) (*Status, error)
}

type quotaStore interface {
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)
	Get(ctx context.Context, key string) (string, error)
	DemoQuotaKey(profileID, period string) string
}

type service struct {
	store quotaStore
	cfg   config.DemoConfig
	now   func() time.Time
}

// NewService wires a demo quota service over the provided redis store.
func NewService(store quotaStore, cfg config.DemoConfig) (Service, error) {
	if store == nil {
		return nil, fmt.Errorf("quota store is required")
	}
	if cfg.MonthlyLimit <= 0 {
		return nil, fmt.Errorf("monthly limit must be positive")
	}
	return &service{store: store, cfg: cfg, now: time.Now}, nil
}

// CurrentPeriod formats the month bucket used for quota keys.
func CurrentPeriod(at time.Time) string {
	return at.UTC().Format("200601")
}

// Reserve atomically claims one demo generation. When the quota is spent it
// returns a QUOTA_EXCEEDED error without consuming anything.
func (s *service) Reserve(ctx context.Context, profileID uuid.UUID) (*Reservation, error) {
	if profileID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "profile id is required")
	}

	key := s.store.DemoQuotaKey(profileID.String(), CurrentPeriod(s.now()))
	ttlSeconds := int(s.cfg.CounterTTL / time.Second)

	result, err := s.store.Eval(ctx, reserveScript, []string{key}, s.cfg.MonthlyLimit, ttlSeconds)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reserve demo quota")
	}
	remaining, err := toInt(result)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode quota result")
	}
	if remaining < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeQuotaExceeded, "monthly demo quota exhausted")
	}
	return &Reservation{Remaining: remaining, Exhausted: remaining == 0}, nil
}

// Release returns one reservation, used when a reserved submission never
// reached the vendor.
func (s *service) Release(ctx context.Context, profileID uuid.UUID) error {
	if profileID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "profile id is required")
	}
	key := s.store.DemoQuotaKey(profileID.String(), CurrentPeriod(s.now()))
	if _, err := s.store.Eval(ctx, releaseScript, []string{key}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release demo quota")
	}
	return nil
}

func (s *service) Status(ctx context.Context, profileID uuid.UUID) (*Status, error) {
	if profileID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "profile id is required")
	}

	period := CurrentPeriod(s.now())
	key := s.store.DemoQuotaKey(profileID.String(), period)

	used := 0
	if raw, err := s.store.Get(ctx, key); err == nil {
		if parsed, parseErr := strconv.Atoi(raw); parseErr == nil {
			used = parsed
		}
	}
	if used > s.cfg.MonthlyLimit {
		used = s.cfg.MonthlyLimit
	}
	return &Status{
		Used:      used,
		Limit:     s.cfg.MonthlyLimit,
		Remaining: s.cfg.MonthlyLimit - used,
		Period:    period,
	}, nil
}

func toInt(value any) (int, error) {
	switch v := value.(type) {
	case int64:
		return int(v), nil
	case int:
		return v, nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("unexpected redis reply type %T", value)
	}
}
