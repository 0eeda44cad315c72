package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/canteen-queue/internal/booking"
	"github.com/ariefcatur/canteen-queue/internal/canteen"
	"github.com/redis/go-redis/v9"
)

// TokenStatus is the cached, cheap-to-poll view of one booking.
type TokenStatus struct {
	BookingID            string         `json:"booking_id"`
	StudentID            string         `json:"student_id"`
	SlotID               string         `json:"slot_id"`
	TokenNumber          string         `json:"token_number"`
	Status               canteen.Status `json:"status"`
	QueuePosition        int            `json:"queue_position"`
	EstimatedWaitMinutes int            `json:"estimated_wait_minutes"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

func StatusOf(v booking.View) TokenStatus {
	return TokenStatus{
		BookingID:            v.ID,
		StudentID:            v.StudentID,
		SlotID:               v.SlotID,
		TokenNumber:          v.TokenNumber,
		Status:               v.Status,
		QueuePosition:        v.QueuePosition,
		EstimatedWaitMinutes: v.EstimatedWaitMinutes,
		UpdatedAt:            v.UpdatedAt,
	}
}

type StatusCache struct{ rdb redis.Cmdable }

func NewStatusCache(rdb redis.Cmdable) *StatusCache { return &StatusCache{rdb: rdb} }

func (c *StatusCache) PutStatus(ctx context.Context, v booking.View) error {
	b, err := json.Marshal(StatusOf(v))
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyTokenStatus, v.ID), b, TTLStatusCache).Err()
}

// GetStatus returns the raw cached JSON; ok is false on a cache miss.
func (c *StatusCache) GetStatus(ctx context.Context, bookingID string) (raw []byte, ok bool, err error) {
	s, err := c.rdb.Get(ctx, fmt.Sprintf(KeyTokenStatus, bookingID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

type Idempotency struct{ rdb redis.Cmdable }

func NewIdempotency(rdb redis.Cmdable) *Idempotency { return &Idempotency{rdb: rdb} }

func (i *Idempotency) Lookup(ctx context.Context, studentID, key string) (string, bool, error) {
	id, err := i.rdb.Get(ctx, fmt.Sprintf(KeyIdemBookingCreate, studentID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (i *Idempotency) Remember(ctx context.Context, studentID, key, bookingID string) error {
	return i.rdb.Set(ctx, fmt.Sprintf(KeyIdemBookingCreate, studentID, key), bookingID, TTLIdempotency).Err()
}

// Dedup remembers processed event ids per consuming service.
type Dedup struct {
	rdb     redis.Cmdable
	service string
}

func NewDedup(rdb redis.Cmdable, service string) *Dedup {
	return &Dedup{rdb: rdb, service: service}
}

// Seen reports whether eventID was already claimed and claims it otherwise.
func (d *Dedup) Seen(ctx context.Context, eventID string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, d.service, eventID), "1", TTLDedup).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Forget releases a claim so a failed event can be processed again.
func (d *Dedup) Forget(ctx context.Context, eventID string) error {
	return d.rdb.Del(ctx, fmt.Sprintf(KeyDedup, d.service, eventID)).Err()
}
