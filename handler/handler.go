package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Financial-Times/go-logger/v2"
	"github.com/Financial-Times/wbgapi-catalog/region"
	"github.com/Financial-Times/wbgapi-catalog/report"
	"github.com/Financial-Times/wbgapi-catalog/source"
	"github.com/Financial-Times/wbgapi-catalog/wbgapi"
	tidutils "github.com/Financial-Times/transactionid-utils-go"
	"github.com/gorilla/mux"
)

// LendingAPI reads lending groups.
type LendingAPI interface {
	List(ctx context.Context, ids ...string) iter.Seq2[wbgapi.Record, error]
	Get(ctx context.Context, id string) (wbgapi.Record, error)
	Members(ctx context.Context, id string) (region.Set, error)
	Series(ctx context.Context, name string, ids ...string) (*report.Series, error)
}

// SourceAPI reads databases, their concepts and their features.
type SourceAPI interface {
	List(ctx context.Context, ids ...string) iter.Seq2[wbgapi.Record, error]
	Get(ctx context.Context, db int) (wbgapi.Record, error)
	Concepts(ctx context.Context, db int) (source.Concepts, error)
	HasMetadata(ctx context.Context, db int) (bool, error)
	Features(ctx context.Context, concept string, db int, ids ...string) (iter.Seq2[wbgapi.Record, error], error)
	Feature(ctx context.Context, concept string, id string, db int) (wbgapi.Record, error)
}

// Handler serves the catalog over HTTP.
type Handler struct {
	lending LendingAPI
	sources SourceAPI
	log     *logger.UPPLogger
	timeout time.Duration
}

// New initializes Handler.
func New(lending LendingAPI, sources SourceAPI, log *logger.UPPLogger, httpTimeout time.Duration) *Handler {
	return &Handler{
		lending: lending,
		sources: sources,
		log:     log,
		timeout: httpTimeout,
	}
}

// RegisterRoutes adds every catalog endpoint to r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/lendingtypes", h.ListLendingTypes).Methods(http.MethodGet)
	r.HandleFunc("/lendingtypes/series", h.LendingTypeSeries).Methods(http.MethodGet)
	r.HandleFunc("/lendingtypes/{id}", h.GetLendingType).Methods(http.MethodGet)
	r.HandleFunc("/lendingtypes/{id}/members", h.LendingTypeMembers).Methods(http.MethodGet)

	r.HandleFunc("/sources", h.ListSources).Methods(http.MethodGet)
	r.HandleFunc("/sources/{db}", h.GetSource).Methods(http.MethodGet)
	r.HandleFunc("/sources/{db}/concepts", h.SourceConcepts).Methods(http.MethodGet)
	r.HandleFunc("/sources/{db}/metadata", h.SourceMetadata).Methods(http.MethodGet)
	r.HandleFunc("/sources/{db}/concepts/{concept}", h.ListFeatures).Methods(http.MethodGet)
	r.HandleFunc("/sources/{db}/concepts/{concept}/{id}", h.GetFeature).Methods(http.MethodGet)
}

// ListLendingTypes lists lending groups, optionally restricted by id query parameters.
func (h *Handler) ListLendingTypes(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, readLog := h.requestContext(r)
	defer cancel()

	writeRecords(w, readLog, h.lending.List(ctx, queryIDs(r)...))
}

func (h *Handler) LendingTypeSeries(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, readLog := h.requestContext(r)
	defer cancel()

	series, err := h.lending.Series(ctx, r.URL.Query().Get("name"), queryIDs(r)...)
	if err != nil {
		handleErrors(err, readLog, w)
		return
	}
	writeJSON(w, readLog, series)
}

func (h *Handler) GetLendingType(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, readLog := h.requestContext(r)
	defer cancel()

	rec, err := h.lending.Get(ctx, mux.Vars(r)["id"])
	if err != nil {
		handleErrors(err, readLog, w)
		return
	}
	writeJSON(w, readLog, rec)
}

// LendingTypeMembers returns the sorted economy ids of a lending group.
func (h *Handler) LendingTypeMembers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, readLog := h.requestContext(r)
	defer cancel()

	members, err := h.lending.Members(ctx, mux.Vars(r)["id"])
	if err != nil {
		handleErrors(err, readLog, w)
		return
	}
	writeJSON(w, readLog, members.Sorted())
}

func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, readLog := h.requestContext(r)
	defer cancel()

	writeRecords(w, readLog, h.sources.List(ctx, queryIDs(r)...))
}

func (h *Handler) GetSource(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, readLog := h.requestContext(r)
	defer cancel()

	db, err := wbgapi.ParseDB(mux.Vars(r)["db"])
	if err != nil {
		handleErrors(err, readLog, w)
		return
	}
	rec, err := h.sources.Get(ctx, db)
	if err != nil {
		handleErrors(err, readLog, w)
		return
	}
	writeJSON(w, readLog, rec)
}

// SourceConcepts returns the concept table of a database, keyed by URL friendly concept key.
func (h *Handler) SourceConcepts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, readLog := h.requestContext(r)
	defer cancel()

	db, err := wbgapi.ParseDB(mux.Vars(r)["db"])
	if err != nil {
		handleErrors(err, readLog, w)
		return
	}
	concepts, err := h.sources.Concepts(ctx, db)
	if err != nil {
		handleErrors(err, readLog, w)
		return
	}
	writeJSON(w, readLog, concepts)
}

type metadataResponse struct {
	ID          int  `json:"id"`
	HasMetadata bool `json:"hasMetadata"`
}

func (h *Handler) SourceMetadata(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, readLog := h.requestContext(r)
	defer cancel()

	db, err := wbgapi.ParseDB(mux.Vars(r)["db"])
	if err != nil {
		handleErrors(err, readLog, w)
		return
	}
	has, err := h.sources.HasMetadata(ctx, db)
	if err != nil {
		handleErrors(err, readLog, w)
		return
	}
	writeJSON(w, readLog, metadataResponse{ID: db, HasMetadata: has})
}

func (h *Handler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, readLog := h.requestContext(r)
	defer cancel()

	vars := mux.Vars(r)
	db, err := wbgapi.ParseDB(vars["db"])
	if err != nil {
		handleErrors(err, readLog, w)
		return
	}
	features, err := h.sources.Features(ctx, vars["concept"], db, queryIDs(r)...)
	if err != nil {
		handleErrors(err, readLog, w)
		return
	}
	writeRecords(w, readLog, features)
}

func (h *Handler) GetFeature(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, readLog := h.requestContext(r)
	defer cancel()

	vars := mux.Vars(r)
	db, err := wbgapi.ParseDB(vars["db"])
	if err != nil {
		handleErrors(err, readLog, w)
		return
	}
	rec, err := h.sources.Feature(ctx, vars["concept"], vars["id"], db)
	if err != nil {
		handleErrors(err, readLog, w)
		return
	}
	writeJSON(w, readLog, rec)
}

func (h *Handler) requestContext(r *http.Request) (context.Context, context.CancelFunc, *logger.LogEntry) {
	tID := tidutils.GetTransactionIDFromRequest(r)
	ctx, cancel := context.WithTimeout(tidutils.TransactionAwareContext(context.Background(), tID), h.timeout)
	return ctx, cancel, h.log.WithTransactionID(tID).WithField("path", r.URL.Path)
}

// queryIDs reads repeated or comma separated id query parameters.
func queryIDs(r *http.Request) []string {
	var ids []string
	for _, v := range r.URL.Query()["id"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func writeRecords(w http.ResponseWriter, readLog *logger.LogEntry, records iter.Seq2[wbgapi.Record, error]) {
	result := []wbgapi.Record{}
	for rec, err := range records {
		if err != nil {
			handleErrors(err, readLog, w)
			return
		}
		result = append(result, rec)
	}
	writeJSON(w, readLog, result)
}

func writeJSON(w http.ResponseWriter, readLog *logger.LogEntry, v interface{}) {
	j, err := json.Marshal(v)
	if err != nil {
		readLog.WithError(err).Error("Failed to encode response")
		writeMessage(w, readLog, fmt.Sprintf("Failed to encode response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err = w.Write(j); err != nil {
		readLog.WithError(err).Error("Failed to write response")
	}
}

func handleErrors(err error, readLog *logger.LogEntry, w http.ResponseWriter) {
	var httpErr *wbgapi.HTTPError
	var apiErr *wbgapi.APIError
	var urlErr *url.Error

	switch {
	case errors.Is(err, wbgapi.ErrInvalidDatabase):
		writeMessage(w, readLog, err.Error(), http.StatusBadRequest)
	case isTimeoutErr(err):
		readLog.WithError(err).Error("Timeout while reading from the World Bank API.")
		writeMessage(w, readLog, "Timeout while reading from the World Bank API", http.StatusGatewayTimeout)
	case errors.Is(err, wbgapi.ErrNotFound), errors.Is(err, source.ErrUnsupportedConcept):
		writeMessage(w, readLog, err.Error(), http.StatusNotFound)
	case errors.As(err, &httpErr):
		if httpErr.NotFound() {
			writeMessage(w, readLog, err.Error(), http.StatusNotFound)
			return
		}
		readLog.WithError(err).Error("World Bank API responded with an error")
		writeMessage(w, readLog, err.Error(), http.StatusServiceUnavailable)
	case errors.As(err, &apiErr):
		readLog.WithError(err).Info("World Bank API rejected the request")
		writeMessage(w, readLog, apiErr.Message, http.StatusBadRequest)
	case errors.As(err, &urlErr):
		readLog.WithError(err).Error("World Bank API is unreachable")
		writeMessage(w, readLog, err.Error(), http.StatusServiceUnavailable)
	default:
		readLog.WithError(err).Error("Failed to read from the World Bank API")
		writeMessage(w, readLog, fmt.Sprintf("Failed to read from the World Bank API: %v", err), http.StatusInternalServerError)
	}
}

func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func writeMessage(w http.ResponseWriter, readLog *logger.LogEntry, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	message := make(map[string]interface{})
	message["message"] = msg
	j, err := json.Marshal(&message)

	if err != nil {
		readLog.WithError(err).Error("Failed to parse provided message to json, this is a bug.")
		return
	}

	_, err = w.Write(j)
	if err != nil {
		readLog.WithError(err).Error("Failed to parse response message.")
	}
}
