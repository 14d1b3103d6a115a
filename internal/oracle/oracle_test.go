package oracle

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return now }

func TestCheck(t *testing.T) {
	fresh := Price{FeedID: SOLUSDFeedID, Price: 15000, Exponent: -2, PublishTime: now.Add(-time.Minute), Signatures: 5}

	tests := []struct {
		name string
		p    Price
		want error
	}{
		{"fresh", fresh, nil},
		{"exactly max age", withTime(fresh, now.Add(-600*time.Second)), nil},
		{"stale", withTime(fresh, now.Add(-601*time.Second)), ErrStalePrice},
		{"few signatures", withSigs(fresh, 4), ErrInsufficientVerification},
		{"other feed", withFeed(fresh, "aa"), ErrFeedMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.p, SOLUSDFeedID, now, 600*time.Second, 5)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func withTime(p Price, ts time.Time) Price { p.PublishTime = ts; return p }
func withSigs(p Price, n int) Price       { p.Signatures = n; return p }
func withFeed(p Price, id string) Price   { p.FeedID = id; return p }

func TestParseFeedID(t *testing.T) {
	id, err := ParseFeedID("0x" + "EF0D8B6FDA2CEBA41DA15D4095D1DA392A0D2F8ED0C6C7BC0F4CFAC8C280B56D")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != SOLUSDFeedID {
		t.Errorf("expected normalised id, got %s", id)
	}

	for _, bad := range []string{"", "0x1234", "zz" + SOLUSDFeedID[2:]} {
		if _, err := ParseFeedID(bad); !errors.Is(err, ErrInvalidFeedID) {
			t.Errorf("expected ErrInvalidFeedID for %q, got %v", bad, err)
		}
	}
}

func TestStatic(t *testing.T) {
	s := NewStatic(fixedNow)
	if _, err := s.GetPrice(context.Background(), SOLUSDFeedID, time.Minute, 1); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable before Set, got %v", err)
	}

	s.Set(Price{FeedID: SOLUSDFeedID, Price: 42, Exponent: -1, PublishTime: now, Signatures: 5})
	p, err := s.GetPrice(context.Background(), SOLUSDFeedID, time.Minute, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Price != 42 || p.Exponent != -1 {
		t.Errorf("unexpected price %+v", p)
	}
}

// accumulatorUpdate builds a minimal PNAU blob whose VAA carries sigs signatures.
func accumulatorUpdate(sigs byte) string {
	vaa := []byte{1, 0, 0, 0, 4, sigs}
	b := []byte("PNAU")
	b = append(b, 1, 0, 2, 0xAA, 0xBB) // major, minor, trailing len 2, trailing
	b = append(b, 0)                   // update type
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(vaa)))
	b = append(b, n[:]...)
	b = append(b, vaa...)
	return hex.EncodeToString(b)
}

func hermesServer(t *testing.T, feed string, publish time.Time, sigs byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/updates/price/latest" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("ids[]") != feed {
			t.Errorf("unexpected ids[] %q", r.URL.Query().Get("ids[]"))
		}
		fmt.Fprintf(w, `{"binary":{"encoding":"hex","data":[%q]},
			"parsed":[{"id":%q,"price":{"price":"15012345678","conf":"1200","expo":-8,"publish_time":%d}}]}`,
			accumulatorUpdate(sigs), feed, publish.Unix())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHermesClient_GetPrice(t *testing.T) {
	srv := hermesServer(t, SOLUSDFeedID, now.Add(-10*time.Second), 13)
	c := NewHermesClient(srv.URL, srv.Client())
	c.now = fixedNow

	p, err := c.GetPrice(context.Background(), SOLUSDFeedID, 600*time.Second, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Price != 15012345678 || p.Exponent != -8 || p.Conf != 1200 {
		t.Errorf("unexpected price %+v", p)
	}
	if p.Signatures != 13 {
		t.Errorf("expected 13 signatures, got %d", p.Signatures)
	}
}

func TestHermesClient_Stale(t *testing.T) {
	srv := hermesServer(t, SOLUSDFeedID, now.Add(-time.Hour), 13)
	c := NewHermesClient(srv.URL, srv.Client())
	c.now = fixedNow

	if _, err := c.GetPrice(context.Background(), SOLUSDFeedID, 600*time.Second, 5); !errors.Is(err, ErrStalePrice) {
		t.Errorf("expected ErrStalePrice, got %v", err)
	}
}

func TestHermesClient_InsufficientSignatures(t *testing.T) {
	srv := hermesServer(t, SOLUSDFeedID, now, 3)
	c := NewHermesClient(srv.URL, srv.Client())
	c.now = fixedNow

	if _, err := c.GetPrice(context.Background(), SOLUSDFeedID, 600*time.Second, 5); !errors.Is(err, ErrInsufficientVerification) {
		t.Errorf("expected ErrInsufficientVerification, got %v", err)
	}
}

func TestCountSignatures_Malformed(t *testing.T) {
	for _, b := range [][]byte{nil, []byte("XXXX0000"), []byte("PNAU\x01\x00\x05")} {
		if _, err := countSignatures(b); !errors.Is(err, errMalformedUpdate) {
			t.Errorf("expected errMalformedUpdate for %x, got %v", b, err)
		}
	}
}
