package api

import (
	"net/http"
	"strings"

	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
)

// BearerToken extracts the bearer access token from a request's
// Authorization header. The second return is false when the header is
// missing or not a bearer credential.
func BearerToken(r *http.Request) (interfaces.AccessToken, bool) {
	header := r.Header.Get(AuthorizationHeader)
	if header == "" {
		return "", false
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}

	return interfaces.AccessToken(token), true
}

// SetBearerToken stamps the bearer access token on an outgoing request.
func SetBearerToken(req *http.Request, token interfaces.AccessToken) {
	req.Header.Set(AuthorizationHeader, "Bearer "+string(token))
}
