// Package guard implements the in-process abuse guards in front of the API.
//
// RouteLimiter counts requests per client IP and route within a fixed
// window. A client that exceeds the limit is locked out with a backoff that
// doubles for every further block of attempts, capped at one hour.
//
// AccountLockout counts login attempts per account and locks the account
// for a fixed period once the threshold is reached. Acquire refuses a locked
// account and counts the attempt under one lock, so concurrent logins cannot
// all slip past the threshold; success resets the count.
//
// Throttle is a token-bucket limiter per key, used for device message ingest.
//
// All three keep their state in memory behind a single mutex and evict idle
// entries lazily from the request path; none of them starts a goroutine or
// timer. State is per process, so a restart forgets every counter.
package guard
