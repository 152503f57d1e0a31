// Package geolocation resolves IP addresses to their approximate location.
package geolocation

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/michr/ops-toolkit/internal/constants"
)

// Unknown is the value of every field that could not be resolved.
const Unknown = "Unknown"

// DefaultCooldown is the pause after each lookup.
const DefaultCooldown = 100 * time.Millisecond

// Record is the location of an address.
type Record struct {
	City    string
	Region  string
	Country string
	Postal  string
	Org     string
}

// UnknownRecord returns a record with every field Unknown.
func UnknownRecord() Record {
	return Record{City: Unknown, Region: Unknown, Country: Unknown, Postal: Unknown, Org: Unknown}
}

// response is the lookup service answer. Absent fields stay nil.
type response struct {
	City        *string `json:"city"`
	Region      *string `json:"region"`
	CountryName *string `json:"country_name"`
	Postal      *string `json:"postal"`
	Org         *string `json:"org"`
	Error       bool    `json:"error"`
	Reason      string  `json:"reason"`
}

func (r response) record() Record {
	or := func(s *string) string {
		if s == nil {
			return Unknown
		}
		return *s
	}
	return Record{
		City:    or(r.City),
		Region:  or(r.Region),
		Country: or(r.CountryName),
		Postal:  or(r.Postal),
		Org:     or(r.Org),
	}
}

// Client looks addresses up once each and remembers the answer, failures
// included, for its whole life. It is not safe for concurrent use.
type Client struct {
	baseURL  string
	apiKey   string
	cooldown time.Duration
	http     *http.Client
	sleep    func(context.Context, time.Duration)
	log      *slog.Logger

	cache map[string]Record
}

type options struct {
	baseURL  string
	cooldown time.Duration
	http     *http.Client
	sleep    func(context.Context, time.Duration)
	log      *slog.Logger
}

// Options represents an optional function to override Client default values.
type Options func(*options)

// WithBaseURL sets the lookup service location.
func WithBaseURL(u string) Options {
	return func(o *options) {
		o.baseURL = u
	}
}

// WithCooldown sets the pause after each lookup.
func WithCooldown(d time.Duration) Options {
	return func(o *options) {
		o.cooldown = d
	}
}

// WithHTTPClient sets the client used for lookups.
func WithHTTPClient(c *http.Client) Options {
	return func(o *options) {
		o.http = c
	}
}

// New returns a Client authenticating with apiKey. An empty key sends anonymous lookups.
func New(apiKey string, args ...Options) *Client {
	opts := options{
		baseURL:  constants.DefaultGeolocationURL,
		cooldown: DefaultCooldown,
		http:     &http.Client{Timeout: 10 * time.Second},
		sleep:    sleep,
		log:      slog.Default(),
	}
	for _, opt := range args {
		opt(&opts)
	}

	return &Client{
		baseURL:  strings.TrimSuffix(opts.baseURL, "/"),
		apiKey:   apiKey,
		cooldown: opts.cooldown,
		http:     opts.http,
		sleep:    opts.sleep,
		log:      opts.log,
		cache:    make(map[string]Record),
	}
}

// Get returns the location of ip.
//
// An empty ip is Unknown without any lookup. Otherwise the first call looks ip
// up and every later one returns the same record. A failed lookup yields an
// Unknown record and is not retried. Each lookup is followed by the cooldown,
// whatever its outcome.
func (c *Client) Get(ctx context.Context, ip string) Record {
	if ip == "" {
		return UnknownRecord()
	}
	if r, ok := c.cache[ip]; ok {
		return r
	}

	r, err := c.lookup(ctx, ip)
	if err != nil {
		c.log.Warn("Geolocation lookup failed", "ip", ip, "err", err)
		r = UnknownRecord()
	}
	c.sleep(ctx, c.cooldown)

	c.cache[ip] = r
	return r
}

// GetMany returns the location of every address of ips.
func (c *Client) GetMany(ctx context.Context, ips []string) map[string]Record {
	r := make(map[string]Record, len(ips))
	for _, ip := range ips {
		r[ip] = c.Get(ctx, ip)
	}
	return r
}

func (c *Client) lookup(ctx context.Context, ip string) (Record, error) {
	u := fmt.Sprintf("%s/%s/json/", c.baseURL, url.PathEscape(ip))
	if c.apiKey != "" {
		u += "?key=" + url.QueryEscape(c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Record{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Record{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Record{}, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var data response
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return Record{}, fmt.Errorf("could not decode response: %v", err)
	}
	if data.Error {
		return Record{}, fmt.Errorf("lookup refused: %s", data.Reason)
	}
	c.log.Debug("Geolocation response", "ip", ip, "record", data.record())
	return data.record(), nil
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
