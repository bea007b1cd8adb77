package rpc

import (
	"context"
	"errors"
	"strings"
)

// Error signatures that distinguish endpoint faults from real failures. Public RPC
// endpoints disagree wildly on how they report these, so classification is by
// message shape rather than error code alone.
var (
	rateLimitSignatures = []string{
		"429",
		"rate limit",
		"too many requests",
		"request rate exceeded",
		"limit exceeded",
	}
	rangeTooLargeSignatures = []string{
		"block range",
		"range too large",
		"exceed maximum block range",
		"query returned more than",
		"too many results",
	}
	malformedResponseSignatures = []string{
		"invalid character",
		"cannot unmarshal",
		"unexpected eof",
		"missing required field",
	}
	noSuchTokenSignatures = []string{
		"missing revert data",
		"invalid token",
		"nonexistent token",
		"owner query for nonexistent token",
	}
	userRejectedSignatures = []string{
		"user rejected",
		"user denied",
		"action_rejected",
	}
	alreadyResolvedSignatures = []string{
		"already been revealed",
		"battle not pending",
	}
)

func matchesAny(err error, signatures []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range signatures {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsRateLimited reports whether err looks like endpoint rate limiting.
func IsRateLimited(err error) bool {
	return matchesAny(err, rateLimitSignatures)
}

// IsRangeTooLarge reports whether err looks like an oversized-block-range rejection.
func IsRangeTooLarge(err error) bool {
	return matchesAny(err, rangeTooLargeSignatures)
}

// IsMalformedResponse reports whether err looks like a truncated or garbled endpoint
// response rather than a real node-side failure.
func IsMalformedResponse(err error) bool {
	return matchesAny(err, malformedResponseSignatures)
}

// IsNoSuchToken reports whether err carries the signature of a read against a token
// that does not exist. Callers treat it as expected and skip silently.
func IsNoSuchToken(err error) bool {
	return matchesAny(err, noSuchTokenSignatures)
}

// IsUserRejected reports whether err is a wallet-signing rejection. It is an
// informational outcome, never an endpoint fault.
func IsUserRejected(err error) bool {
	return matchesAny(err, userRejectedSignatures)
}

// IsAlreadyResolved reports whether err is the contract refusing a reveal because
// the battle already resolved. Callers should refresh their view of the request
// rather than treat it as a failure.
func IsAlreadyResolved(err error) bool {
	return matchesAny(err, alreadyResolvedSignatures)
}

// IsRetryable reports whether err is an endpoint-specific fault worth retrying
// against a different endpoint. Context cancellation and user rejection are always
// terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsUserRejected(err) {
		return false
	}
	return IsRateLimited(err) || IsRangeTooLarge(err) || IsMalformedResponse(err)
}
