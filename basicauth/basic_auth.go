package basicauth

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"testing"
)

const (
	TestBasicAuthUsername = "testUsername"
	TestBasicAuthPassword = "testPassword"
	AuthorizationHeader   = "Authorization"
)

var ErrCredentialsLength = errors.New("credentials should be given as username:password")

// Credentials are sent as basic auth with every upstream request.
type Credentials struct {
	Username string
	Password string
}

// Parse reads credentials given as "username:password".
// An empty input means no credentials and returns nil.
func Parse(basicAuth string) (*Credentials, error) {
	if strings.TrimSpace(basicAuth) == "" {
		return nil, nil
	}
	parts := strings.SplitN(basicAuth, ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return nil, ErrCredentialsLength
	}
	return &Credentials{Username: parts[0], Password: parts[1]}, nil
}

// Apply sets the credentials on req. Nil credentials leave req untouched.
func (c *Credentials) Apply(req *http.Request) {
	if c == nil {
		return
	}
	req.SetBasicAuth(c.Username, c.Password)
}

func EncodeBasicAuthForTests(t *testing.T) string {
	t.Helper()
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(TestBasicAuthUsername+":"+TestBasicAuthPassword))
}
