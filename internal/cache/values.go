package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Lifetime of a value that never goes stale.
const Forever time.Duration = 0

// Fetch returns the value stored under bucket/id if it is younger than
// lifetime, otherwise it calls load and stores the result. A lifetime of
// Forever keeps values indefinitely.
func Fetch[T any](
	ctx context.Context,
	store ValueStore,
	bucket, id string,
	lifetime time.Duration,
	now time.Time,
	load func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	log := logrus.WithFields(logrus.Fields{"component": "cache", "bucket": bucket, "id": id})

	stored, err := store.GetValue(ctx, bucket, id)
	if err != nil {
		log.WithError(err).Warn("reading cached value failed, reloading")
	}
	if stored != nil && (lifetime == Forever || now.Sub(stored.StoredAt) < lifetime) {
		var v T
		if err := json.Unmarshal(stored.Data, &v); err == nil {
			lookupsTotal.WithLabelValues(bucket, "hit").Inc()
			return v, nil
		}
		log.Warn("cached value undecodable, reloading")
	}
	lookupsTotal.WithLabelValues(bucket, "miss").Inc()

	v, err := load(ctx)
	if err != nil {
		return zero, err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("encode %s/%s: %w", bucket, id, err)
	}
	if err := store.PutValue(ctx, bucket, id, StampedValue{StoredAt: now.UTC(), Data: data}); err != nil {
		return zero, fmt.Errorf("store %s/%s: %w", bucket, id, err)
	}
	return v, nil
}
