// Package oracle consumes signed price feeds. A read fails closed when the
// newest price is older than the freshness bound or carries fewer guardian
// signatures than required.
package oracle

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	// ErrStalePrice is returned when the newest price is older than maxAge.
	ErrStalePrice = errors.New("oracle: price is stale")

	// ErrInsufficientVerification is returned when a price carries fewer
	// signatures than the required verification level.
	ErrInsufficientVerification = errors.New("oracle: insufficient price verification")

	// ErrFeedMismatch is returned when the source answers for another feed.
	ErrFeedMismatch = errors.New("oracle: feed id mismatch")

	// ErrPriceUnavailable is returned when the source has no price at all.
	ErrPriceUnavailable = errors.New("oracle: price unavailable")

	// ErrInvalidFeedID is returned for feed ids that are not 32 hex bytes.
	ErrInvalidFeedID = errors.New("oracle: invalid feed id")
)

// SOLUSDFeedID is the Pyth SOL/USD feed.
const SOLUSDFeedID = "ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d"

// Price is one signed observation: Price * 10^Exponent.
type Price struct {
	FeedID      string    `json:"feed_id"`
	Price       int64     `json:"price"`
	Exponent    int32     `json:"exponent"`
	Conf        uint64    `json:"conf"`
	PublishTime time.Time `json:"publish_time"`
	Signatures  int       `json:"signatures"`
}

// Oracle is the price capability consumed at round open and settle.
type Oracle interface {
	GetPrice(ctx context.Context, feedID string, maxAge time.Duration, minSignatures int) (Price, error)
}

// ParseFeedID normalises a feed id to 64 lowercase hex chars without 0x.
func ParseFeedID(s string) (string, error) {
	id := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
	b, err := hex.DecodeString(id)
	if err != nil || len(b) != 32 {
		return "", fmt.Errorf("%w: %q", ErrInvalidFeedID, s)
	}
	return id, nil
}

// Check applies the freshness and verification bounds to p.
func Check(p Price, feedID string, now time.Time, maxAge time.Duration, minSignatures int) error {
	if p.FeedID != "" && feedID != "" && p.FeedID != feedID {
		return fmt.Errorf("%w: want %s, got %s", ErrFeedMismatch, feedID, p.FeedID)
	}
	if p.PublishTime.Add(maxAge).Before(now) {
		return fmt.Errorf("%w: published %s, max age %s", ErrStalePrice,
			p.PublishTime.UTC().Format(time.RFC3339), maxAge)
	}
	if p.Signatures < minSignatures {
		return fmt.Errorf("%w: %d of %d signatures", ErrInsufficientVerification,
			p.Signatures, minSignatures)
	}
	return nil
}

// Static is an in-process Oracle holding one settable price. Used for
// development and tests.
type Static struct {
	mu    sync.Mutex
	price Price
	set   bool
	now   func() time.Time
}

// NewStatic creates a Static oracle checking freshness against now.
func NewStatic(now func() time.Time) *Static {
	if now == nil {
		now = time.Now
	}
	return &Static{now: now}
}

// Set replaces the current price.
func (s *Static) Set(p Price) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price = p
	s.set = true
}

func (s *Static) GetPrice(_ context.Context, feedID string, maxAge time.Duration, minSignatures int) (Price, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.set {
		return Price{}, ErrPriceUnavailable
	}
	if err := Check(s.price, feedID, s.now(), maxAge, minSignatures); err != nil {
		return Price{}, err
	}
	return s.price, nil
}
