package wbgapi

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Financial-Times/go-logger/v2"
	"github.com/Financial-Times/wbgapi-catalog/basicauth"
	tidUtils "github.com/Financial-Times/transactionid-utils-go"
	"github.com/pkg/errors"
	metrics "github.com/rcrowley/go-metrics"
)

const (
	// Platform is the platform name upstream requests carry in their User-Agent.
	Platform = "WBG"

	DefaultEndpoint = "https://api.worldbank.org/v2"
	DefaultLang     = "en"
	DefaultDB       = 2
	DefaultPageSize = 1000

	// DefaultDatabase stands for "the configured default database" wherever a database id is expected.
	DefaultDatabase = 0
)

// Config holds the shared request settings for every accessor.
type Config struct {
	Endpoint string
	Lang     string
	DB       int
	PageSize int
}

func DefaultConfig() Config {
	return Config{
		Endpoint: DefaultEndpoint,
		Lang:     DefaultLang,
		DB:       DefaultDB,
		PageSize: DefaultPageSize,
	}
}

// Option configures a Client.
type Option func(*Client)

// WithCredentials sets basic auth credentials sent with every upstream request.
func WithCredentials(creds *basicauth.Credentials) Option {
	return func(c *Client) {
		c.credentials = creds
	}
}

// WithMetricsRegistry overrides the registry upstream request timings are recorded in.
func WithMetricsRegistry(r metrics.Registry) Option {
	return func(c *Client) {
		if r != nil {
			c.registry = r
		}
	}
}

// Client fetches paginated records from the World Bank API.
type Client struct {
	httpClient  *http.Client
	cfg         Config
	log         *logger.UPPLogger
	credentials *basicauth.Credentials
	registry    metrics.Registry
	timer       metrics.Timer
}

func NewClient(httpClient *http.Client, cfg Config, log *logger.UPPLogger, opts ...Option) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.DB <= 0 {
		cfg.DB = DefaultDB
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}

	c := &Client{
		httpClient: httpClient,
		cfg:        cfg,
		log:        log,
		registry:   metrics.DefaultRegistry,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.timer = metrics.GetOrRegisterTimer("wbgapi.upstream.requests", c.registry)
	return c
}

// URL builds an API URL below the configured endpoint and language.
func (c *Client) URL(parts ...string) string {
	base := strings.TrimRight(c.cfg.Endpoint, "/")
	if c.cfg.Lang != "" {
		base += "/" + c.cfg.Lang
	}
	return base + "/" + strings.Join(parts, "/")
}

// ResolveDB maps DefaultDatabase to the configured default database id.
func (c *Client) ResolveDB(db int) int {
	if db == DefaultDatabase {
		return c.cfg.DB
	}
	return db
}

func (c *Client) Config() Config {
	return c.cfg
}

// FetchOption selects the response shape Fetch expects.
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	concepts    bool
	databaseIDs bool
}

// Concepts makes Fetch yield concept rows instead of concept variables.
func Concepts() FetchOption {
	return func(o *fetchOptions) {
		o.concepts = true
	}
}

// DatabaseIDs asks the sources endpoints to filter on database ids.
func DatabaseIDs() FetchOption {
	return func(o *fetchOptions) {
		o.databaseIDs = true
	}
}

// Fetch returns a lazy sequence over every record of a paginated endpoint.
// Each range over the sequence starts again from the first page.
func (c *Client) Fetch(ctx context.Context, rawURL string, params url.Values, opts ...FetchOption) iter.Seq2[Record, error] {
	fo := fetchOptions{}
	for _, opt := range opts {
		opt(&fo)
	}

	return func(yield func(Record, error) bool) {
		reqCtx, tid := c.transactionAwareContext(ctx)
		fetchLog := c.log.WithTransactionID(tid).WithField("url", rawURL)

		for pageNo := 1; ; pageNo++ {
			p, err := c.fetchPage(reqCtx, tid, rawURL, c.pageQuery(params, fo, pageNo), fo.concepts)
			if err != nil {
				fetchLog.WithError(err).WithField("page", pageNo).Error("Error fetching page from World Bank API")
				yield(nil, err)
				return
			}

			for _, rec := range p.rows {
				if !yield(rec, nil) {
					return
				}
			}

			// pageNo bounds the loop even when the header repeats the same page.
			if len(p.rows) == 0 || pageNo >= int(p.header.Pages) || int(p.header.Page) >= int(p.header.Pages) {
				return
			}
		}
	}
}

// Get fetches exactly one record.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values, opts ...FetchOption) (Record, error) {
	var found Record
	for rec, err := range c.Fetch(ctx, rawURL, params, opts...) {
		if err != nil {
			return nil, err
		}
		if found != nil {
			return nil, fmt.Errorf("%s: %w", rawURL, ErrAmbiguous)
		}
		found = rec
	}
	if found == nil {
		return nil, fmt.Errorf("%s: %w", rawURL, ErrNotFound)
	}
	return found, nil
}

func (c *Client) pageQuery(params url.Values, fo fetchOptions, pageNo int) url.Values {
	q := url.Values{}
	for k, v := range params {
		q[k] = append([]string(nil), v...)
	}
	q.Set("format", "json")
	q.Set("per_page", strconv.Itoa(c.cfg.PageSize))
	q.Set("page", strconv.Itoa(pageNo))
	if fo.databaseIDs {
		q.Set("databid", "y")
	}
	return q
}

func (c *Client) fetchPage(ctx context.Context, tid string, rawURL string, query url.Values, concepts bool) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	q := req.URL.Query()
	for k, v := range query {
		q[k] = v
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set(tidUtils.TransactionIDHeader, tid)
	req.Header.Set("Accept", "application/json")
	c.credentials.Apply(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.timer.UpdateSince(start)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read World Bank API response body")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Status: resp.StatusCode, URL: rawURL, Body: body}
	}

	return decodePage(body, concepts)
}

func (c *Client) transactionAwareContext(ctx context.Context) (context.Context, string) {
	tid, err := tidUtils.GetTransactionIDFromContext(ctx)
	if err != nil {
		tid = tidUtils.NewTransactionID()
		c.log.WithTransactionID(tid).
			WithError(err).
			Info("No Transaction ID provided for World Bank API request, so a new one has been generated.")
		ctx = tidUtils.TransactionAwareContext(ctx, tid)
	}
	return ctx, tid
}

// Endpoint returns the configured API endpoint.
func (c *Client) Endpoint() string {
	return c.cfg.Endpoint
}

// GTG checks that the record of the default database can be read.
func (c *Client) GTG() error {
	tid := tidUtils.NewTransactionID()
	ctx := tidUtils.TransactionAwareContext(context.Background(), tid)
	_, err := c.Get(ctx, c.URL("sources", strconv.Itoa(c.cfg.DB)), nil, DatabaseIDs())
	if err != nil {
		c.log.WithTransactionID(tid).WithError(err).Error("World Bank API is not good-to-go")
		return fmt.Errorf("GTG: %w", err)
	}
	return nil
}
