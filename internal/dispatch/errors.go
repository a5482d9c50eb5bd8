package dispatch

import "errors"

var (
	// ErrDispatchFailed means the envelope never reached the broker. It is
	// not retried.
	ErrDispatchFailed = errors.New("dispatch failed")

	// ErrRequestTimeout means no matching response arrived in time. The work
	// may still complete later and leave an orphaned response.
	ErrRequestTimeout = errors.New("request timed out")
)
