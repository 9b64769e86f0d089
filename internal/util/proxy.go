package util

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/mitchellh/go-homedir"
)

// NewProxyFunc creates a proxy function based on configuration.
// Hosts listed in noProxy (comma separated, suffix match) bypass the proxy.
// If no proxy URLs are provided, falls back to environment variables.
func NewProxyFunc(httpProxy, httpsProxy, noProxy string) func(*http.Request) (*url.URL, error) {
	if httpProxy == "" && httpsProxy == "" {
		return http.ProxyFromEnvironment
	}

	var bypass []string
	for _, h := range strings.Split(noProxy, ",") {
		if h = strings.TrimSpace(h); h != "" {
			bypass = append(bypass, strings.TrimPrefix(h, "."))
		}
	}

	return func(req *http.Request) (*url.URL, error) {
		host := req.URL.Hostname()
		for _, b := range bypass {
			if host == b || strings.HasSuffix(host, "."+b) {
				return nil, nil
			}
		}
		if req.URL.Scheme == "https" && httpsProxy != "" {
			return url.Parse(httpsProxy)
		}
		if httpProxy != "" {
			return url.Parse(httpProxy)
		}
		return http.ProxyFromEnvironment(req)
	}
}

// HTTPOptions configures NewHTTPClient
type HTTPOptions struct {
	Timeout    time.Duration
	RetryMax   int
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// NewHTTPClient returns a standard client backed by retryablehttp.
// Connection errors and 5xx/429 responses are retried with backoff.
func NewHTTPClient(opts HTTPOptions) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = leveledLogger{entry: Log.WithField("component", "http")}
	// hand the last response back so callers can read the API error body
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.HTTPClient.Timeout = opts.Timeout
	rc.HTTPClient.Transport = &http.Transport{
		Proxy: NewProxyFunc(opts.HTTPProxy, opts.HTTPSProxy, opts.NoProxy),
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return rc.StandardClient()
}

// ExpandPath resolves a leading ~ to the user's home directory
func ExpandPath(path string) string {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return path
	}
	return expanded
}
