package adapters

import (
	"net/http"

	"golang.org/x/oauth2"
)

// oauthTransport injects a bearer token from tokenSource into every
// request, the minimal RoundTripper oauth2.Transport already provides —
// defined locally to keep the google ADC dependency confined to this
// package's adapters.
type oauthTransport struct {
	base        http.RoundTripper
	tokenSource oauth2.TokenSource
}

func (t *oauthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.tokenSource.Token()
	if err != nil {
		return nil, err
	}
	clone := req.Clone(req.Context())
	token.SetAuthHeader(clone)
	return t.base.RoundTrip(clone)
}
