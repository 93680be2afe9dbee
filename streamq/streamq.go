package streamq

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"charassets/domain"
)

// UploadStream publishes one stream entry per uploaded object so CDN purge /
// site rebuild consumers can react without polling the ledger.
type UploadStream struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

func NewUploadStream(rdb *redis.Client, stream string, maxLen int64) *UploadStream {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &UploadStream{
		rdb:    rdb,
		stream: strings.TrimSpace(stream),
		maxLen: maxLen,
	}
}

// Publish appends rec to the stream (XADD MAXLEN ~).
func (q *UploadStream) Publish(ctx context.Context, rec domain.UploadRecord) error {
	if q == nil || q.rdb == nil {
		return errors.New("redis upload stream not initialized")
	}
	key := strings.TrimSpace(rec.Key)
	if key == "" {
		return errors.New("object key is empty")
	}
	if q.stream == "" {
		return errors.New("stream key is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	args := &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"key":       key,
			"variant":   rec.Variant,
			"url":       rec.URL,
			"converted": rec.Converted,
			"ts":        rec.Timestamp.UnixMilli(),
		},
	}
	return q.rdb.XAdd(ctx, args).Err()
}
