package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"

	"github.com/Financial-Times/go-ft-http/fthttp"
	"github.com/Financial-Times/go-logger/v2"
	"github.com/Financial-Times/wbgapi-catalog/wbgapi"
	"github.com/google/go-cmp/cmp"
	metrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const (
	wdiConcepts = `{"page":1,"pages":1,"per_page":"1000","total":4,"source":[{"id":"2","name":"World Development Indicators","concept":[
		{"id":"Country","value":"Country"},
		{"id":"Series","value":"Series"},
		{"id":"Time","value":"Time"},
		{"id":"Time Period","value":"Time period"}
	]}]}`
	wdiSeries = `{"page":1,"pages":1,"per_page":"1000","total":2,"source":[{"id":"2","concept":[{"id":"Series","variable":[
		{"id":"SP.POP.TOTL","value":"Population, total"},
		{"id":"NY.GDP.MKTP.CD","value":"GDP (current US$)"}
	]}]}]}`
	wdiPopulation = `{"page":1,"pages":1,"per_page":"1000","total":1,"source":[{"id":"2","concept":[{"id":"Series","variable":[
		{"id":"SP.POP.TOTL","value":"Population, total"}
	]}]}]}`
	wdiSource    = `[{"page":1,"pages":1,"per_page":"1000","total":1},[{"id":"2","name":"World Development Indicators","metadataavailability":"%s"}]]`
	wdiNoMetaKey = `[{"page":1,"pages":1,"per_page":"1000","total":1},[{"id":"2","name":"World Development Indicators"}]]`
	allSources   = `[{"page":1,"pages":1,"per_page":"1000","total":2},[{"id":"1","name":"Doing Business"},{"id":"2","name":"World Development Indicators"}]]`
)

// fakeWorldBank answers with a canned body per escaped path and counts the requests.
type fakeWorldBank struct {
	sync.Mutex
	bodies map[string]string
	hits   map[string]int
}

func (f *fakeWorldBank) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()
	f.hits[r.URL.EscapedPath()]++
	body, ok := f.bodies[r.URL.EscapedPath()]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	fmt.Fprint(w, body)
}

func (f *fakeWorldBank) count(path string) int {
	f.Lock()
	defer f.Unlock()
	return f.hits[path]
}

type SourceAPITestSuite struct {
	suite.Suite
	upstream *fakeWorldBank
	server   *httptest.Server
	caches   *Caches
	api      *API
}

func TestSourceAPITestSuite(t *testing.T) {
	suite.Run(t, new(SourceAPITestSuite))
}

func (s *SourceAPITestSuite) SetupTest() {
	s.upstream = &fakeWorldBank{
		bodies: map[string]string{
			"/en/sources/2/concepts":           wdiConcepts,
			"/en/sources/2/series/all":         wdiSeries,
			"/en/sources/2/series/SP.POP.TOTL": wdiPopulation,
			"/en/sources/2":                    fmt.Sprintf(wdiSource, "Y"),
			"/en/sources/all":                  allSources,
		},
		hits: map[string]int{},
	}
	s.server = httptest.NewServer(s.upstream)

	registry := metrics.NewRegistry()
	cfg := wbgapi.DefaultConfig()
	cfg.Endpoint = s.server.URL
	log := logger.NewUPPLogger("wbgapi-catalog-test", "PANIC")
	client := wbgapi.NewClient(
		fthttp.NewClientWithDefaultTimeout(wbgapi.Platform, "wbgapi-catalog"),
		cfg,
		log,
		wbgapi.WithMetricsRegistry(registry),
	)
	s.caches = NewCaches(WithCacheMetricsRegistry(registry))
	s.api = NewAPI(client, s.caches, log)
}

func (s *SourceAPITestSuite) TearDownTest() {
	s.server.Close()
}

func (s *SourceAPITestSuite) TestConceptsAreNormalized() {
	concepts, err := s.api.Concepts(context.Background(), 2)
	s.Require().NoError(err)

	expected := Concepts{
		"country":       "Country",
		"series":        "Series",
		"time":          "Time",
		"time%20period": "Time period",
	}
	if diff := cmp.Diff(expected, concepts); diff != "" {
		s.T().Errorf("concepts mismatch (-want +got):\n%s", diff)
	}
}

func (s *SourceAPITestSuite) TestConceptsAreFetchedOnce() {
	first, err := s.api.Concepts(context.Background(), 2)
	s.Require().NoError(err)
	second, err := s.api.Concepts(context.Background(), 2)
	s.Require().NoError(err)

	s.Equal(1, s.upstream.count("/en/sources/2/concepts"))
	s.Equal(reflect.ValueOf(first).Pointer(), reflect.ValueOf(second).Pointer())
	s.Equal(int64(1), s.caches.conceptLoads.Count())
}

func (s *SourceAPITestSuite) TestDefaultDatabaseSharesCacheEntry() {
	byDefault, err := s.api.Concepts(context.Background(), wbgapi.DefaultDatabase)
	s.Require().NoError(err)
	explicit, err := s.api.Concepts(context.Background(), 2)
	s.Require().NoError(err)

	s.Equal(1, s.upstream.count("/en/sources/2/concepts"))
	s.Equal(reflect.ValueOf(byDefault).Pointer(), reflect.ValueOf(explicit).Pointer())
}

func (s *SourceAPITestSuite) TestCachesAreSharedBetweenAPIs() {
	_, err := s.api.Concepts(context.Background(), 2)
	s.Require().NoError(err)

	other := NewAPI(s.api.client, s.caches, s.api.log)
	_, err = other.Concepts(context.Background(), 2)
	s.Require().NoError(err)

	s.Equal(1, s.upstream.count("/en/sources/2/concepts"))
}

func (s *SourceAPITestSuite) TestConceptsErrorIsNotCached() {
	_, err := s.api.Concepts(context.Background(), 11)
	var httpErr *wbgapi.HTTPError
	s.Require().True(errors.As(err, &httpErr))
	s.True(httpErr.NotFound())

	_, err = s.api.Concepts(context.Background(), 11)
	s.Error(err)
	s.Equal(2, s.upstream.count("/en/sources/11/concepts"))
}

func (s *SourceAPITestSuite) TestFeatures() {
	features, err := s.api.Features(context.Background(), "series", 2)
	s.Require().NoError(err)

	var ids []string
	for rec, err := range features {
		s.Require().NoError(err)
		ids = append(ids, rec.ID())
	}
	s.Equal([]string{"SP.POP.TOTL", "NY.GDP.MKTP.CD"}, ids)
}

func (s *SourceAPITestSuite) TestFeaturesConceptIsCaseInsensitive() {
	_, err := s.api.Features(context.Background(), "Series", wbgapi.DefaultDatabase)
	s.NoError(err)
}

func (s *SourceAPITestSuite) TestFeaturesUnsupportedConcept() {
	features, err := s.api.Features(context.Background(), "region", 2)
	s.Nil(features)
	s.True(errors.Is(err, ErrUnsupportedConcept))
	s.Contains(err.Error(), `"region"`)
	s.Contains(err.Error(), "database 2")
	s.Equal(0, s.upstream.count("/en/sources/2/region/all"))
}

func (s *SourceAPITestSuite) TestFeature() {
	rec, err := s.api.Feature(context.Background(), "series", "SP.POP.TOTL", 2)
	s.Require().NoError(err)
	s.Equal("Population, total", rec.Value())
}

func (s *SourceAPITestSuite) TestFeatureEscapesID() {
	s.upstream.bodies["/en/sources/2/series/SP%2FPOP%3FTOTL"] = wdiPopulation

	rec, err := s.api.Feature(context.Background(), "series", "SP/POP?TOTL", 2)
	s.Require().NoError(err)
	s.Equal("Population, total", rec.Value())
	s.Equal(1, s.upstream.count("/en/sources/2/series/SP%2FPOP%3FTOTL"))
}

func (s *SourceAPITestSuite) TestFeaturesEscapeSelectedIDs() {
	s.upstream.bodies["/en/sources/2/series/SP.POP.TOTL%3Fx;NY.GDP"] = wdiSeries

	features, err := s.api.Features(context.Background(), "series", 2, "SP.POP.TOTL?x", "NY.GDP")
	s.Require().NoError(err)
	for _, err := range features {
		s.Require().NoError(err)
	}
	s.Equal(1, s.upstream.count("/en/sources/2/series/SP.POP.TOTL%3Fx;NY.GDP"))
}

func (s *SourceAPITestSuite) TestFeatureUnsupportedConcept() {
	_, err := s.api.Feature(context.Background(), "economy", "BRA", 2)
	s.True(errors.Is(err, ErrUnsupportedConcept))
	s.Equal(0, s.upstream.count("/en/sources/2/economy/BRA"))
}

func (s *SourceAPITestSuite) TestHasMetadataIsFetchedOnce() {
	has, err := s.api.HasMetadata(context.Background(), wbgapi.DefaultDatabase)
	s.Require().NoError(err)
	s.True(has)

	has, err = s.api.HasMetadata(context.Background(), 2)
	s.Require().NoError(err)
	s.True(has)

	s.Equal(1, s.upstream.count("/en/sources/2"))
	s.Equal(int64(1), s.caches.metaLoads.Count())
}

func (s *SourceAPITestSuite) TestHasMetadataFlagValues() {
	tests := map[string]struct {
		body     string
		expected bool
	}{
		"upper case yes": {fmt.Sprintf(wdiSource, "Y"), true},
		"lower case yes": {fmt.Sprintf(wdiSource, "y"), true},
		"no":             {fmt.Sprintf(wdiSource, "N"), false},
		"empty":          {fmt.Sprintf(wdiSource, ""), false},
		"missing field":  {wdiNoMetaKey, false},
	}

	for name, test := range tests {
		s.Run(name, func() {
			s.upstream.Lock()
			s.upstream.bodies["/en/sources/2"] = test.body
			s.upstream.Unlock()

			api := NewAPI(s.api.client, NewCaches(WithCacheMetricsRegistry(metrics.NewRegistry())), s.api.log)
			has, err := api.HasMetadata(context.Background(), 2)
			s.Require().NoError(err)
			s.Equal(test.expected, has)
		})
	}
}

func (s *SourceAPITestSuite) TestGet() {
	rec, err := s.api.Get(context.Background(), wbgapi.DefaultDatabase)
	s.Require().NoError(err)
	s.Equal("World Development Indicators", rec.Str("name"))
}

func (s *SourceAPITestSuite) TestList() {
	var names []string
	for rec, err := range s.api.List(context.Background()) {
		s.Require().NoError(err)
		names = append(names, rec.Str("name"))
	}
	s.Equal([]string{"Doing Business", "World Development Indicators"}, names)
}

func (s *SourceAPITestSuite) TestInfo() {
	var out bytes.Buffer
	s.Require().NoError(s.api.Info(context.Background(), &out))
	s.Contains(out.String(), "Doing Business")
	s.Contains(out.String(), "2 elements")
}

func (s *SourceAPITestSuite) TestGTG() {
	s.NoError(s.api.GTG())
	s.NoError(s.api.GTG())
	s.Equal(2, s.upstream.count("/en/sources/2/concepts"))
	s.Equal(int64(0), s.caches.conceptLoads.Count())
}

func (s *SourceAPITestSuite) TestGTGFailsWithoutConcepts() {
	s.upstream.Lock()
	s.upstream.bodies["/en/sources/2/concepts"] = `{"page":1,"pages":1,"per_page":"1000","total":0,"source":[]}`
	s.upstream.Unlock()

	err := s.api.GTG()
	s.EqualError(err, "GTG: database 2 has no concepts")
}

func (s *SourceAPITestSuite) TestGTGUpstreamError() {
	s.server.Close()
	s.Error(s.api.GTG())
}

func (s *SourceAPITestSuite) TestEndpoint() {
	s.Equal(s.server.URL, s.api.Endpoint())
}

func TestConceptKey(t *testing.T) {
	tests := map[string]string{
		"Country":      "country",
		"Time Period":  "time%20period",
		"Series/Time":  "series/time",
		"version_1.0~": "version_1.0~",
		"a&b":          "a%26b",
	}
	for in, expected := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, expected, conceptKey(in))
		})
	}
}

func TestConceptsHas(t *testing.T) {
	c := Concepts{"time%20period": "Time period"}
	assert.True(t, c.Has("Time Period"))
	assert.False(t, c.Has("Country"))
}

func TestNewAPIWithoutCaches(t *testing.T) {
	api := NewAPI(nil, nil, logger.NewUPPLogger("wbgapi-catalog-test", "PANIC"))
	require.NotNil(t, api.concepts)
	require.NotNil(t, api.metadata)
}
