// Package tagme is a client for the TagMe entity-linking service.
//
// Annotation, mention spotting and relatedness scoring all run on the remote
// server; this package issues the form-encoded requests and turns the JSON
// replies into read-only response values. A response of nil with a nil error
// means the service did not return a usable result (non-200 status or a
// transport failure); the cause is logged as a warning.
package tagme

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Endpoints of the public D4Science deployment and the request defaults.
const (
	// DefaultTagAPI is the annotation endpoint.
	DefaultTagAPI = "https://tagme.d4science.org/tagme/tag"
	// DefaultSpotAPI is the mention spotting endpoint.
	DefaultSpotAPI = "https://tagme.d4science.org/tagme/spot"
	// DefaultRelAPI is the relatedness endpoint.
	DefaultRelAPI = "https://tagme.d4science.org/tagme/rel"
	// DefaultLang is the Wikipedia language used when none is configured.
	DefaultLang = "en"
	// DefaultLongText is the long_text value sent with annotate calls.
	DefaultLongText = 3

	// MaxRelatednessPairsPerRequest is the number of pairs the relatedness
	// endpoint accepts in one call.
	MaxRelatednessPairsPerRequest = 100

	tokenField = "gcube-token"
)

// Config holds the client-wide defaults. Every field may be left zero.
type Config struct {
	// Token is the D4Science gcube token used when a call does not pass
	// WithToken.
	Token string

	Lang     string
	TagAPI   string
	SpotAPI  string
	RelAPI   string
	LongText int

	// MaxPairsPerRequest caps the pairs sent per relatedness request.
	MaxPairsPerRequest int

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to a TagMe deployment. It holds no mutable state and may be
// shared between goroutines.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

// New validates cfg, fills in defaults and returns a client.
func New(cfg Config) (*Client, error) {
	if cfg.Lang == "" {
		cfg.Lang = DefaultLang
	}
	if cfg.TagAPI == "" {
		cfg.TagAPI = DefaultTagAPI
	}
	if cfg.SpotAPI == "" {
		cfg.SpotAPI = DefaultSpotAPI
	}
	if cfg.RelAPI == "" {
		cfg.RelAPI = DefaultRelAPI
	}
	if cfg.LongText == 0 {
		cfg.LongText = DefaultLongText
	}
	if cfg.MaxPairsPerRequest == 0 {
		cfg.MaxPairsPerRequest = MaxRelatednessPairsPerRequest
	}
	if cfg.MaxPairsPerRequest < 0 {
		return nil, fmt.Errorf("tagme: max pairs per request must be positive, got %d", cfg.MaxPairsPerRequest)
	}
	if cfg.LongText < 0 {
		return nil, fmt.Errorf("tagme: long_text cannot be negative, got %d", cfg.LongText)
	}

	for name, raw := range map[string]string{"tag": cfg.TagAPI, "spot": cfg.SpotAPI, "rel": cfg.RelAPI} {
		if err := checkEndpoint(raw); err != nil {
			return nil, fmt.Errorf("tagme: %s endpoint: %w", name, err)
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{cfg: cfg, http: httpClient, log: logger}, nil
}

func checkEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme in %q", raw)
	}
	return nil
}

// CallOption overrides a client default for a single call.
type CallOption func(*callOptions)

type callOptions struct {
	token    string
	lang     string
	endpoint string
	longText int
}

// WithToken sets the gcube token for one call. An empty token keeps the
// client default.
func WithToken(token string) CallOption {
	return func(o *callOptions) { o.token = token }
}

// WithLang sets the Wikipedia language for one call.
func WithLang(lang string) CallOption {
	return func(o *callOptions) { o.lang = lang }
}

// WithEndpoint sends the call to a different API URL.
func WithEndpoint(endpoint string) CallOption {
	return func(o *callOptions) { o.endpoint = endpoint }
}

// WithLongText sets the long_text parameter of an annotate call.
func WithLongText(n int) CallOption {
	return func(o *callOptions) { o.longText = n }
}

func (c *Client) resolve(endpoint string, opts []CallOption) callOptions {
	o := callOptions{
		token:    c.cfg.Token,
		lang:     c.cfg.Lang,
		endpoint: endpoint,
		longText: c.cfg.LongText,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.token == "" {
		o.token = c.cfg.Token
	}
	if o.lang == "" {
		o.lang = c.cfg.Lang
	}
	if o.endpoint == "" {
		o.endpoint = endpoint
	}
	return o
}

// issue posts form to endpoint. ok is false when the service gave no usable
// answer; err is reserved for configuration problems and cancellation.
func (c *Client) issue(ctx context.Context, endpoint string, form url.Values, token string) (body []byte, ok bool, err error) {
	if token == "" {
		return nil, false, ErrMissingToken
	}
	form.Set(tokenField, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, false, fmt.Errorf("tagme: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	req.Header.Set("Accept", "application/json")

	c.log.Debug("calling tagme", slog.String("endpoint", endpoint))
	res, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		c.log.Warn("tagme request failed", slog.String("endpoint", endpoint), slog.Any("err", err))
		return nil, false, nil
	}
	defer res.Body.Close()

	body, err = io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK {
		c.log.Warn("tagme returned non-success status",
			slog.String("endpoint", endpoint),
			slog.Int("status", res.StatusCode),
			slog.String("body", strings.TrimSpace(string(body))),
		)
		return nil, false, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		c.log.Warn("tagme response read failed", slog.String("endpoint", endpoint), slog.Any("err", err))
		return nil, false, nil
	}

	return body, true, nil
}
