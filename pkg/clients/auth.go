package clients

import (
	"net/http"

	"golang.org/x/oauth2"
)

// PrivateTokenHeader carries a personal, project or group access token.
const PrivateTokenHeader = "Private-Token"

// PrivateTokenTransport adds the Private-Token header to every request.
type PrivateTokenTransport struct {
	Token string
	Base  http.RoundTripper
}

// RoundTrip implements http.RoundTripper
func (t *PrivateTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request
	clone := req.Clone(req.Context())
	clone.Header.Set(PrivateTokenHeader, t.Token)
	resp, err := t.base().RoundTrip(clone)
	if err != nil {
		return nil, err
	}
	// the clone carries the token; hand back the caller's request
	resp.Request = req
	return resp, nil
}

func (t *PrivateTokenTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// NewAuthTransport wraps base with GitLab authentication. A private token
// takes precedence; an OAuth token is sent as a bearer token.
func NewAuthTransport(base http.RoundTripper, privateToken, oauthToken string) http.RoundTripper {
	switch {
	case privateToken != "":
		return &PrivateTokenTransport{Token: privateToken, Base: base}
	case oauthToken != "":
		return &bearerTransport{base: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{
				AccessToken: oauthToken,
				TokenType:   "Bearer",
			}),
			Base: base,
		}}
	default:
		return base
	}
}

// bearerTransport keeps the Authorization header of oauth2.Transport off
// the request returned with the response.
type bearerTransport struct {
	base *oauth2.Transport
}

// RoundTrip implements http.RoundTripper
func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	resp.Request = req
	return resp, nil
}
