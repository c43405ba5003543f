// Package fault injects configurable request failures so clients can
// exercise their retry paths against the mock server.
package fault

import (
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
)

var rng = rand.New(rand.NewSource(time.Now().UnixNano()))

var rngMu sync.Mutex

func RandIntn(n int) int {
	if n <= 0 {
		return 0
	}
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Intn(n)
}

func RandFloat64() float64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Float64()
}

// Injector decides whether a request fails and how.
type Injector struct {
	Rate float64 // probability in [0, 1]
	Mode string  // mixed|429|500

	// roll returns a value in [0, 1); nil uses the package rng.
	roll func() float64
}

func New(rate float64, mode string) *Injector {
	return &Injector{Rate: rate, Mode: mode}
}

// ShouldFail rolls once for a request. A nil Injector never fails.
func (in *Injector) ShouldFail() bool {
	if in == nil || in.Rate <= 0 {
		return false
	}
	if in.Rate >= 1 {
		return true
	}
	roll := in.roll
	if roll == nil {
		roll = RandFloat64
	}
	return roll() < in.Rate
}

// HTTPStatus picks the status code for an injected failure.
func (in *Injector) HTTPStatus() int {
	switch normalizeMode(in.Mode) {
	case "429":
		return http.StatusTooManyRequests
	case "500":
		return http.StatusInternalServerError
	default:
		// mixed
		if RandIntn(2) == 0 {
			return http.StatusTooManyRequests
		}
		return http.StatusInternalServerError
	}
}

// GRPCCode picks the status code for an injected gRPC failure.
func (in *Injector) GRPCCode() codes.Code {
	if in.HTTPStatus() == http.StatusTooManyRequests {
		return codes.ResourceExhausted
	}
	return codes.Internal
}

func normalizeMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "429", "resource_exhausted", "rate_limit", "rate limit":
		return "429"
	case "500", "internal", "server_error":
		return "500"
	default:
		return "mixed"
	}
}
