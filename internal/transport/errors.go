package transport

import (
	"errors"

	"github.com/alfred-ai/signalhub/internal/ratelimit"
)

// asRateLimitError unwraps a ratelimit.Exceeded from the handler error
// chain so Dispatch can map it to the RateLimitExceeded wire code.
func asRateLimitError(err error) (*ratelimit.Exceeded, bool) {
	var rlErr *ratelimit.Exceeded
	if errors.As(err, &rlErr) {
		return rlErr, true
	}
	return nil, false
}
