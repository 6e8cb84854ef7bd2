package sharedhttp

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"time"

	"novelarr/internal/domain"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
)

// Transport is shared by every provider so all outbound connections
// present the same TLS and HTTP/2 characteristics. Provider-side bot
// detection fingerprints connection behavior independent of declared
// headers, so per-provider transports would stand out.
var Transport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ReadBufferSize:        65536,
	WriteBufferSize:       65536,
	TLSClientConfig: &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			// Chrome ordering for the TLS 1.2 suites it still offers
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	},
}

// Profile selects the browser header set matching the request type.
type Profile int

const (
	ProfileAPI Profile = iota
	ProfilePage
	ProfileImage
)

const chromeUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/110.0.0.0 Safari/537.36"

var commonHeaders = map[string]string{
	"User-Agent":         chromeUA,
	"Accept-Language":    "zh-CN,zh;q=0.9",
	"Sec-Ch-Ua":          `"Not=A?Brand";v="24", "Chromium";v="110"`,
	"Sec-Ch-Ua-Mobile":   "?0",
	"Sec-Ch-Ua-Platform": `"macOS"`,
}

var profileHeaders = map[Profile]map[string]string{
	ProfileAPI: {
		"Accept":         "*/*",
		"Sec-Fetch-Site": "same-origin",
		"Sec-Fetch-Mode": "cors",
		"Sec-Fetch-Dest": "empty",
	},
	ProfilePage: {
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Sec-Fetch-Site":            "same-origin",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Dest":            "document",
		"Upgrade-Insecure-Requests": "1",
	},
	ProfileImage: {
		"Accept":         "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8",
		"Sec-Fetch-Site": "cross-site",
		"Sec-Fetch-Mode": "no-cors",
		"Sec-Fetch-Dest": "image",
	},
}

// ApplyHeaders sets the browser header profile on a request. Headers the
// caller already set win.
func ApplyHeaders(req *http.Request, profile Profile) {
	for k, v := range commonHeaders {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	for k, v := range profileHeaders[profile] {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
}

// Client wraps an http.Client with the shared transport and maps
// responses onto the error taxonomy.
type Client struct {
	http *http.Client
}

func NewClient(jar http.CookieJar, timeout time.Duration) *Client {
	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: Transport,
			Jar:       jar,
		},
	}
}

// Do executes the request. Connection failures come back wrapped and
// retryable, non-2xx responses as *domain.StatusError with the body
// consumed into it.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request failed")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		return nil, &domain.StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	return resp, nil
}

// DoBody executes the request with retries and returns the response
// body. Only network errors and retryable statuses are attempted again.
func (c *Client) DoBody(ctx context.Context, req *http.Request, attempts int) ([]byte, error) {
	var body []byte

	err := retry.Do(func() error {
		// rewind the body so a retried POST sends it again
		if req.GetBody != nil {
			fresh, err := req.GetBody()
			if err != nil {
				return retry.Unrecoverable(errors.Wrap(err, "failed to rewind request body"))
			}
			req.Body = fresh
		}

		resp, err := c.Do(req.WithContext(ctx))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return errors.Wrap(err, "failed to read response body")
		}

		return nil
	},
		retry.Attempts(uint(attempts)),
		retry.Delay(time.Second),
		retry.MaxJitter(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return retry.IsRecoverable(err) && domain.Retryable(err)
		}),
		retry.Context(ctx),
	)

	return body, err
}
