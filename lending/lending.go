// Package lending reads World Bank lending groups (IBRD, IDA, Blend) and their members.
package lending

import (
	"context"
	"io"
	"iter"
	"net/url"

	"github.com/Financial-Times/go-logger/v2"
	"github.com/Financial-Times/wbgapi-catalog/region"
	"github.com/Financial-Times/wbgapi-catalog/report"
	"github.com/Financial-Times/wbgapi-catalog/wbgapi"
	tidUtils "github.com/Financial-Times/transactionid-utils-go"
)

const (
	// DefaultSeriesName is the column name Series uses when none is given.
	DefaultSeriesName = "LendingGroupName"

	membershipCategory = "lendingtype"
	lendingTypePath    = "lendingtype"
)

type Client interface {
	URL(parts ...string) string
	Fetch(ctx context.Context, rawURL string, params url.Values, opts ...wbgapi.FetchOption) iter.Seq2[wbgapi.Record, error]
	Get(ctx context.Context, rawURL string, params url.Values, opts ...wbgapi.FetchOption) (wbgapi.Record, error)
}

type MembersResolver interface {
	Members(ctx context.Context, id string, category string) (region.Set, error)
}

// API gives access to lending groups. Nothing is cached: every call reads the API.
type API struct {
	client  Client
	members MembersResolver
	log     *logger.UPPLogger
}

func NewAPI(client Client, members MembersResolver, log *logger.UPPLogger) *API {
	return &API{client: client, members: members, log: log}
}

// List returns a lazy sequence of lending groups. No ids lists every group.
func (api *API) List(ctx context.Context, ids ...string) iter.Seq2[wbgapi.Record, error] {
	return api.client.Fetch(ctx, api.client.URL(lendingTypePath, wbgapi.QueryParam(ids...)), nil)
}

// Get returns a single lending group.
func (api *API) Get(ctx context.Context, id string) (wbgapi.Record, error) {
	return api.client.Get(ctx, api.client.URL(lendingTypePath, wbgapi.QueryParam(id)), nil)
}

// Members returns the economies of a lending group.
// They come from the universal country list and may differ from the economies
// present in a given database.
func (api *API) Members(ctx context.Context, id string) (region.Set, error) {
	return api.members.Members(ctx, id, membershipCategory)
}

// Series returns lending group names indexed by lending group id.
func (api *API) Series(ctx context.Context, name string, ids ...string) (*report.Series, error) {
	if name == "" {
		name = DefaultSeriesName
	}
	records, err := api.collect(ctx, ids)
	if err != nil {
		return nil, err
	}
	return report.NewSeries(records, name), nil
}

// Info writes a lending group report to w.
func (api *API) Info(ctx context.Context, w io.Writer, ids ...string) error {
	records, err := api.collect(ctx, ids)
	if err != nil {
		return err
	}
	report.PrintInfo(w, records)
	return nil
}

func (api *API) collect(ctx context.Context, ids []string) ([]wbgapi.Record, error) {
	var records []wbgapi.Record
	for rec, err := range api.List(ctx, ids...) {
		if err != nil {
			tid, _ := tidUtils.GetTransactionIDFromContext(ctx)
			api.log.WithTransactionID(tid).WithError(err).Error("Failed to read lending groups")
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
