package oracle

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultHermesURL is the public Pyth Hermes endpoint.
const DefaultHermesURL = "https://hermes.pyth.network"

var errMalformedUpdate = errors.New("oracle: malformed accumulator update")

// HermesClient reads the latest price update from a Pyth Hermes server.
// Price fields come from the parsed block; the verification level is the
// number of guardian signatures on the VAA inside the binary update.
type HermesClient struct {
	baseURL string
	http    *http.Client
	now     func() time.Time
}

// NewHermesClient creates a client for baseURL. Pass nil to use a default
// http.Client with a 10s timeout.
func NewHermesClient(baseURL string, hc *http.Client) *HermesClient {
	if baseURL == "" {
		baseURL = DefaultHermesURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &HermesClient{baseURL: baseURL, http: hc, now: time.Now}
}

type hermesResponse struct {
	Binary struct {
		Encoding string   `json:"encoding"`
		Data     []string `json:"data"`
	} `json:"binary"`
	Parsed []struct {
		ID    string `json:"id"`
		Price struct {
			Price       string `json:"price"`
			Conf        string `json:"conf"`
			Expo        int32  `json:"expo"`
			PublishTime int64  `json:"publish_time"`
		} `json:"price"`
	} `json:"parsed"`
}

func (c *HermesClient) GetPrice(ctx context.Context, feedID string, maxAge time.Duration, minSignatures int) (Price, error) {
	q := url.Values{}
	q.Set("ids[]", feedID)
	q.Set("parsed", "true")
	q.Set("encoding", "hex")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v2/updates/price/latest?"+q.Encode(), nil)
	if err != nil {
		return Price{}, fmt.Errorf("oracle: build hermes request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Price{}, fmt.Errorf("oracle: hermes request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Price{}, fmt.Errorf("%w: hermes status %d", ErrPriceUnavailable, resp.StatusCode)
	}

	var body hermesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Price{}, fmt.Errorf("oracle: decode hermes response: %w", err)
	}

	p, err := body.price(feedID)
	if err != nil {
		return Price{}, err
	}
	if err := Check(p, feedID, c.now(), maxAge, minSignatures); err != nil {
		return Price{}, err
	}
	return p, nil
}

func (r *hermesResponse) price(feedID string) (Price, error) {
	if len(r.Parsed) == 0 || len(r.Binary.Data) == 0 {
		return Price{}, ErrPriceUnavailable
	}
	parsed := r.Parsed[0]

	id, err := ParseFeedID(parsed.ID)
	if err != nil {
		return Price{}, err
	}
	if id != feedID {
		return Price{}, fmt.Errorf("%w: want %s, got %s", ErrFeedMismatch, feedID, id)
	}

	px, err := strconv.ParseInt(parsed.Price.Price, 10, 64)
	if err != nil {
		return Price{}, fmt.Errorf("oracle: parse price %q: %w", parsed.Price.Price, err)
	}
	conf, err := strconv.ParseUint(parsed.Price.Conf, 10, 64)
	if err != nil {
		return Price{}, fmt.Errorf("oracle: parse conf %q: %w", parsed.Price.Conf, err)
	}

	raw, err := hex.DecodeString(r.Binary.Data[0])
	if err != nil {
		return Price{}, fmt.Errorf("%w: %v", errMalformedUpdate, err)
	}
	sigs, err := countSignatures(raw)
	if err != nil {
		return Price{}, err
	}

	return Price{
		FeedID:      id,
		Price:       px,
		Exponent:    parsed.Price.Expo,
		Conf:        conf,
		PublishTime: time.Unix(parsed.Price.PublishTime, 0).UTC(),
		Signatures:  sigs,
	}, nil
}

// countSignatures reads the guardian signature count from an accumulator
// update:
//
//	"PNAU" | major u8 | minor u8 | trailing_len u8 | trailing | update_type u8 |
//	vaa_len u16be | vaa
//
// and the VAA header: version u8 | guardian_set u32be | num_signatures u8.
func countSignatures(b []byte) (int, error) {
	if len(b) < 7 || string(b[:4]) != "PNAU" {
		return 0, fmt.Errorf("%w: missing magic", errMalformedUpdate)
	}
	off := 7 + int(b[6])
	if len(b) < off+3 {
		return 0, fmt.Errorf("%w: truncated header", errMalformedUpdate)
	}
	off++ // update type
	vaaLen := int(binary.BigEndian.Uint16(b[off:]))
	off += 2
	if vaaLen < 6 || len(b) < off+vaaLen {
		return 0, fmt.Errorf("%w: truncated vaa", errMalformedUpdate)
	}
	vaa := b[off : off+vaaLen]
	return int(vaa[5]), nil
}
