package subscription

import "errors"

// ErrRefNotReturned is returned to a waiter whose requested reference was
// not present in the network's load response for the batch it joined.
var ErrRefNotReturned = errors.New("subscription: network did not return requested fact")

// ErrStopped is returned by Subscriber.Start if the subscriber is stopped
// before its first successful exchange resolves.
var ErrStopped = errors.New("subscription: subscriber stopped before start resolved")
