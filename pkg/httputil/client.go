package httputil

import (
	"time"

	"github.com/go-resty/resty/v2"
)

// NewDefaultRestyClient creates a Resty client with the shared defaults used
// for all outbound provider calls: a request timeout plus a small bounded
// retry budget for transient failures. Callers add base URL and auth headers.
func NewDefaultRestyClient() *resty.Client {
	client := resty.New().
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(2 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second)
	return client
}
