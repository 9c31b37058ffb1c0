package ratelimit

import (
	"testing"
	"time"

	"github.com/goliatone/go-smsbroker/core"
)

func TestThrottledError_ToBrokerError(t *testing.T) {
	err := ThrottledError{
		ProviderID: "smshub",
		BucketKey:  "acquire",
		RetryAfter: 3 * time.Second,
	}

	mapped := err.ToBrokerError()
	if mapped == nil {
		t.Fatalf("expected mapped error")
	}
	if mapped.TextCode != core.BrokerErrorRateLimited {
		t.Fatalf("expected %q text code, got %q", core.BrokerErrorRateLimited, mapped.TextCode)
	}
	if mapped.Code != 429 {
		t.Fatalf("expected status code 429, got %d", mapped.Code)
	}
}
