package wbgapi

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned by Get when the API returned no record.
	ErrNotFound = errors.New("no record returned by the World Bank API")
	// ErrAmbiguous is returned by Get when the API returned more than one record.
	ErrAmbiguous = errors.New("more than one record returned by the World Bank API")
	// ErrInvalidDatabase is returned by ParseDB for ids that are not database numbers.
	ErrInvalidDatabase = errors.New("invalid database id")
)

// HTTPError is a non-200 response of the World Bank API.
type HTTPError struct {
	Status int
	URL    string
	Body   []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("World Bank API returned HTTP status %d for %s", e.Status, e.URL)
}

// NotFound reports whether the API answered 404.
func (e *HTTPError) NotFound() bool {
	return e.Status == http.StatusNotFound
}

// APIError is an error the API reports in-band, inside a 200 response.
type APIError struct {
	ID      string
	Key     string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("World Bank API error %s (%s): %s", e.ID, e.Key, e.Message)
}
