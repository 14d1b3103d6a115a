package oracle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFeed reads prices pushed into Redis hashes by an external relayer.
// Each feed lives at "oracle:price:{feedID}" with fields price, expo, conf,
// publish_time (unix seconds) and signatures.
type RedisFeed struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisFeed creates a RedisFeed backed by rdb.
func NewRedisFeed(rdb *redis.Client) *RedisFeed {
	return &RedisFeed{rdb: rdb, now: time.Now}
}

func feedKey(feedID string) string { return "oracle:price:" + feedID }

// Put stores p as the newest price for its feed.
func (f *RedisFeed) Put(ctx context.Context, p Price) error {
	fields := map[string]interface{}{
		"price":        strconv.FormatInt(p.Price, 10),
		"expo":         strconv.FormatInt(int64(p.Exponent), 10),
		"conf":         strconv.FormatUint(p.Conf, 10),
		"publish_time": strconv.FormatInt(p.PublishTime.Unix(), 10),
		"signatures":   strconv.Itoa(p.Signatures),
	}
	if err := f.rdb.HSet(ctx, feedKey(p.FeedID), fields).Err(); err != nil {
		return fmt.Errorf("oracle: put price %s: %w", p.FeedID, err)
	}
	return nil
}

func (f *RedisFeed) GetPrice(ctx context.Context, feedID string, maxAge time.Duration, minSignatures int) (Price, error) {
	vals, err := f.rdb.HGetAll(ctx, feedKey(feedID)).Result()
	if err != nil {
		return Price{}, fmt.Errorf("oracle: get price %s: %w", feedID, err)
	}
	if len(vals) == 0 {
		return Price{}, ErrPriceUnavailable
	}

	p := Price{FeedID: feedID}
	if p.Price, err = strconv.ParseInt(vals["price"], 10, 64); err != nil {
		return Price{}, fmt.Errorf("oracle: parse price %s: %w", feedID, err)
	}
	expo, err := strconv.ParseInt(vals["expo"], 10, 32)
	if err != nil {
		return Price{}, fmt.Errorf("oracle: parse expo %s: %w", feedID, err)
	}
	p.Exponent = int32(expo)
	if c := vals["conf"]; c != "" {
		if p.Conf, err = strconv.ParseUint(c, 10, 64); err != nil {
			return Price{}, fmt.Errorf("oracle: parse conf %s: %w", feedID, err)
		}
	}
	ts, err := strconv.ParseInt(vals["publish_time"], 10, 64)
	if err != nil {
		return Price{}, fmt.Errorf("oracle: parse publish_time %s: %w", feedID, err)
	}
	p.PublishTime = time.Unix(ts, 0).UTC()
	if p.Signatures, err = strconv.Atoi(vals["signatures"]); err != nil {
		return Price{}, fmt.Errorf("oracle: parse signatures %s: %w", feedID, err)
	}

	if err := Check(p, feedID, f.now(), maxAge, minSignatures); err != nil {
		return Price{}, err
	}
	return p, nil
}
