// Package source reads World Bank databases ("sources"), their concepts and their features.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/url"
	"strconv"
	"strings"

	"github.com/Financial-Times/go-logger/v2"
	"github.com/Financial-Times/wbgapi-catalog/report"
	"github.com/Financial-Times/wbgapi-catalog/wbgapi"
	tidUtils "github.com/Financial-Times/transactionid-utils-go"
	loadingcache "github.com/karupanerura/loading-cache"
)

const (
	sourcesPath  = "sources"
	conceptsPath = "concepts"

	metadataField = "metadataavailability"
)

// ErrUnsupportedConcept is returned when a database does not have the requested concept.
var ErrUnsupportedConcept = errors.New("concept not supported by database")

type Client interface {
	URL(parts ...string) string
	ResolveDB(db int) int
	Endpoint() string
	Fetch(ctx context.Context, rawURL string, params url.Values, opts ...wbgapi.FetchOption) iter.Seq2[wbgapi.Record, error]
	Get(ctx context.Context, rawURL string, params url.Values, opts ...wbgapi.FetchOption) (wbgapi.Record, error)
}

// API gives access to databases. Concept tables and metadata flags are read once per
// database and then served from caches.
type API struct {
	client   Client
	log      *logger.UPPLogger
	concepts *loadingcache.LoadingCache[int, Concepts]
	metadata *loadingcache.LoadingCache[int, bool]
}

func NewAPI(client Client, caches *Caches, log *logger.UPPLogger) *API {
	if caches == nil {
		caches = NewCaches()
	}
	api := &API{client: client, log: log}
	api.concepts = loadingCache(caches.Concepts, caches.conceptLoads, api.loadConcepts)
	api.metadata = loadingCache(caches.Metadata, caches.metaLoads, api.loadMetadataFlag)
	return api
}

// List returns a lazy sequence of database records. No ids lists every database.
func (api *API) List(ctx context.Context, ids ...string) iter.Seq2[wbgapi.Record, error] {
	return api.client.Fetch(ctx, api.client.URL(sourcesPath, wbgapi.QueryParam(ids...)), nil, wbgapi.DatabaseIDs())
}

// Get returns the record of a single database.
func (api *API) Get(ctx context.Context, db int) (wbgapi.Record, error) {
	db = api.client.ResolveDB(db)
	return api.client.Get(ctx, api.sourceURL(db), nil, wbgapi.DatabaseIDs())
}

// Concepts returns the concept table of a database.
func (api *API) Concepts(ctx context.Context, db int) (Concepts, error) {
	db = api.client.ResolveDB(db)
	entry, err := api.concepts.GetOrLoad(ctx, db)
	if err != nil {
		api.logError(ctx, err, db, "Failed to load database concepts")
		return nil, err
	}
	return entry.Value, nil
}

// Features returns a lazy sequence over the features of a concept, e.g. every series
// of a database. Nothing is fetched when the database lacks the concept.
func (api *API) Features(ctx context.Context, concept string, db int, ids ...string) (iter.Seq2[wbgapi.Record, error], error) {
	rawURL, err := api.conceptURL(ctx, concept, db, wbgapi.QueryParam(ids...))
	if err != nil {
		return nil, err
	}
	return api.client.Fetch(ctx, rawURL, nil), nil
}

// Feature returns a single feature of a concept.
func (api *API) Feature(ctx context.Context, concept string, id string, db int) (wbgapi.Record, error) {
	rawURL, err := api.conceptURL(ctx, concept, db, url.PathEscape(strings.TrimSpace(id)))
	if err != nil {
		return nil, err
	}
	return api.client.Get(ctx, rawURL, nil)
}

// HasMetadata reports whether the database record says metadata is available.
func (api *API) HasMetadata(ctx context.Context, db int) (bool, error) {
	db = api.client.ResolveDB(db)
	entry, err := api.metadata.GetOrLoad(ctx, db)
	if err != nil {
		api.logError(ctx, err, db, "Failed to read database metadata availability")
		return false, err
	}
	return entry.Value, nil
}

// Info writes a database report to w.
func (api *API) Info(ctx context.Context, w io.Writer, ids ...string) error {
	var records []wbgapi.Record
	for rec, err := range api.List(ctx, ids...) {
		if err != nil {
			tid, _ := tidUtils.GetTransactionIDFromContext(ctx)
			api.log.WithTransactionID(tid).WithError(err).Error("Failed to read databases")
			return err
		}
		records = append(records, rec)
	}
	report.PrintInfo(w, records, report.WithValueField("name"))
	return nil
}

func (api *API) Endpoint() string {
	return api.client.Endpoint()
}

// GTG checks that the concepts of the default database can be read from the API.
// It always asks the API and leaves the caches alone.
func (api *API) GTG() error {
	tid := tidUtils.NewTransactionID()
	ctx := tidUtils.TransactionAwareContext(context.Background(), tid)
	db := api.client.ResolveDB(wbgapi.DefaultDatabase)

	found := false
	for _, err := range api.client.Fetch(ctx, api.client.URL(sourcesPath, strconv.Itoa(db), conceptsPath), nil, wbgapi.Concepts()) {
		if err != nil {
			api.log.WithTransactionID(tid).WithError(err).Error("Default database concepts are not good-to-go")
			return fmt.Errorf("GTG: %w", err)
		}
		found = true
		break
	}
	if !found {
		return fmt.Errorf("GTG: database %d has no concepts", db)
	}
	return nil
}

func (api *API) loadConcepts(ctx context.Context, db int) (Concepts, error) {
	c := Concepts{}
	for rec, err := range api.client.Fetch(ctx, api.client.URL(sourcesPath, strconv.Itoa(db), conceptsPath), nil, wbgapi.Concepts()) {
		if err != nil {
			return nil, err
		}
		c[conceptKey(rec.ID())] = rec.Value()
	}
	return c, nil
}

func (api *API) loadMetadataFlag(ctx context.Context, db int) (bool, error) {
	rec, err := api.client.Get(ctx, api.sourceURL(db), nil, wbgapi.DatabaseIDs())
	if err != nil {
		return false, err
	}
	return strings.ToUpper(rec.Str(metadataField)) == "Y", nil
}

func (api *API) conceptURL(ctx context.Context, concept string, db int, id string) (string, error) {
	db = api.client.ResolveDB(db)
	concepts, err := api.Concepts(ctx, db)
	if err != nil {
		return "", err
	}
	key := conceptKey(concept)
	if _, ok := concepts[key]; !ok {
		return "", fmt.Errorf("concept %q, database %d: %w", concept, db, ErrUnsupportedConcept)
	}
	return api.client.URL(sourcesPath, strconv.Itoa(db), key, id), nil
}

func (api *API) sourceURL(db int) string {
	return api.client.URL(sourcesPath, strconv.Itoa(db))
}

func (api *API) logError(ctx context.Context, err error, db int, msg string) {
	tid, _ := tidUtils.GetTransactionIDFromContext(ctx)
	api.log.WithTransactionID(tid).WithError(err).WithField("db", db).Error(msg)
}

// conceptKey turns a concept id into its URL friendly key: percent-encoded except
// for "/", lower case. "Country" becomes "country", "Time Period" becomes "time%20period".
func conceptKey(id string) string {
	escaped := strings.ReplaceAll(url.QueryEscape(id), "+", "%20")
	return strings.ToLower(strings.ReplaceAll(escaped, "%2F", "/"))
}
