package auth

import (
	"fmt"
	"io"
	"net/http"

	pkghttp "github.com/expensly/expensly-go/pkg/http"
)

const authorizationHeader = "Authorization"

// Transport is an http.RoundTripper that attaches the current bearer token
// to every outgoing request and transparently recovers from a token having
// expired server-side. On a 401 response it performs one coordinated
// refresh and replays the request exactly once with the new token. A replay
// that fails with 401 again propagates as final: the session is genuinely
// invalid and a second refresh would loop forever.
type Transport struct {
	coordinator *RefreshCoordinator
	base        http.RoundTripper
}

func NewTransport(coordinator *RefreshCoordinator, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}

	return &Transport{
		coordinator: coordinator,
		base:        base,
	}
}

// WithRequestAuth routes all of the client's requests through the
// authenticated pipeline. The refresh endpoint's own client must not carry
// this option, a failing refresh would recurse into itself.
func WithRequestAuth(coordinator *RefreshCoordinator) pkghttp.ClientOption {
	return pkghttp.WithTransportWrapper(func(base http.RoundTripper) http.RoundTripper {
		return NewTransport(coordinator, base)
	})
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, hasToken := t.coordinator.store.Get()

	// a missing token is not an error here, the request goes out
	// unauthenticated and may fail downstream
	resp, err := t.base.RoundTrip(withBearer(req, token, hasToken))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	if req.Body != nil && req.GetBody == nil {
		// the body cannot be replayed, the failure is final
		return resp, nil
	}

	discardBody(resp)

	newToken, err := t.coordinator.RefreshToken(req.Context())
	if err != nil {
		return nil, err
	}

	replay, err := replayableRequest(req)
	if err != nil {
		return nil, err
	}

	return t.base.RoundTrip(withBearer(replay, newToken, true))
}

// withBearer never mutates the caller's request, per the RoundTripper
// contract.
func withBearer(req *http.Request, token string, hasToken bool) *http.Request {
	if !hasToken {
		return req
	}

	cloned := req.Clone(req.Context())
	cloned.Header.Set(authorizationHeader, "Bearer "+token)
	return cloned
}

func replayableRequest(req *http.Request) (*http.Request, error) {
	cloned := req.Clone(req.Context())
	if req.GetBody == nil {
		return cloned, nil
	}

	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("reissue request body for replay: %w", err)
	}

	cloned.Body = body
	return cloned, nil
}

func discardBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
