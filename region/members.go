// Package region resolves group membership (regions, income levels, lending types)
// against the universal country list of the World Bank API.
package region

import (
	"context"
	"iter"
	"net/url"
	"sort"

	"github.com/Financial-Times/wbgapi-catalog/wbgapi"
)

// Set is a set of economy ids.
type Set map[string]struct{}

func (s Set) Has(id string) bool {
	_, found := s[id]
	return found
}

// Sorted returns the ids in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type Fetcher interface {
	URL(parts ...string) string
	Fetch(ctx context.Context, rawURL string, params url.Values, opts ...wbgapi.FetchOption) iter.Seq2[wbgapi.Record, error]
}

type Resolver struct {
	client Fetcher
}

func NewResolver(client Fetcher) *Resolver {
	return &Resolver{client: client}
}

// Members returns the economies whose category (e.g. "region", "lendingtype") equals id.
func (r *Resolver) Members(ctx context.Context, id string, category string) (Set, error) {
	params := url.Values{}
	params.Set(category, id)

	members := Set{}
	for row, err := range r.client.Fetch(ctx, r.client.URL("country"), params) {
		if err != nil {
			return nil, err
		}
		members[row.ID()] = struct{}{}
	}
	return members, nil
}
