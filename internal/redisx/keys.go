package redisx

import "time"

const (
	// Idempotent booking create: idem:booking:create:{student_id}:{Idempotency-Key} -> booking_id
	KeyIdemBookingCreate = "idem:booking:create:%s:%s"

	// Token status cache: token_status:{booking_id} -> {"status": "...", "queue_position": n, ...}
	KeyTokenStatus = "token_status:%s"

	// Dedup of consumed events: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
