// Package quotafence provides adaptive rate limiting and admission control
// for Go applications.
//
// QuotaFence decides, per incoming request, whether to admit or reject the
// request against a configurable quota. It ships four interchangeable
// admission algorithms (fixed window, sliding window, token bucket, leaky
// bucket), escalates repeat offenders into temporary hard blocks, and fails
// open when its own infrastructure breaks so it never becomes an availability
// risk for the service it protects.
//
// # Quick Start
//
//	limiter, err := quotafence.NewLimiter(
//	    quotafence.WithGroup("general-api", quotafence.GroupConfig{
//	        Algorithm:   quotafence.TokenBucket,
//	        MaxRequests: 60,
//	        Window:      time.Minute,
//	        BurstSize:   10,
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	decision := limiter.Check("general-api", &quotafence.Request{
//	    RemoteAddr: "203.0.113.7:51234",
//	})
//	if !decision.Allowed {
//	    fmt.Printf("rate limited, retry after %v\n", decision.RetryAfter)
//	}
//
// # HTTP Middleware
//
// Use as HTTP middleware for automatic rate limiting:
//
//	http.Handle("/api/", limiter.Middleware("general-api", yourHandler))
//
// The middleware sets the standard draft rate limit headers on every checked
// response:
//   - RateLimit-Limit: maximum requests allowed in the window
//   - RateLimit-Remaining: remaining requests in the current window
//   - RateLimit-Reset: epoch seconds when the limit resets
//   - Retry-After: seconds to wait before retrying (only when denied)
//
// Denied requests receive a JSON body with the stable error code
// TOO_MANY_REQUESTS, or a distinguishing message when the caller is under an
// escalated block.
//
// # Endpoint Groups
//
// Each named group owns an independent store, so the same caller has
// independent quotas per group. Algorithm selection is a per-group
// configuration choice: authentication endpoints typically use sliding window
// (precise burst control against credential stuffing), general API endpoints
// use token bucket (tolerates legitimate bursts), administrative endpoints
// can use plain fixed window (cheapest).
//
// # Identity Resolution
//
// Keys are derived in priority order: authenticated user id ("user:<id>"),
// then session cookie hashed and combined with the client address, then the
// client address alone from X-Forwarded-For / X-Real-IP / the transport peer,
// finally the literal "unknown". An authenticated abuser cannot evade limits
// by rotating addresses; an anonymous caller who discards cookies degrades to
// address-level limiting.
//
// # Escalation
//
// Every denial increments a per-key violation counter. Once it reaches the
// configured threshold and the group has a block duration, the key is hard
// blocked: all requests are rejected without consulting the algorithm until
// the block elapses. A window reset never unblocks a key early.
//
// # Failure Semantics
//
// Any internal error while resolving identity, reading the store, or running
// an algorithm results in fail-open admission. The event is counted in stats
// and logged at warning level so operators can distinguish "attacker blocked"
// from "rate limiter broken". No error in this package ever surfaces to the
// end caller as a 5xx.
//
// # Concurrency
//
// Store mutation for a given key is serialized: the in-memory store holds a
// sharded mutex across each read-modify-write, so concurrent bursts against
// one key cannot admit more than the configured maximum. Remote backends can
// instead use the DistributedStore Increment operation for atomic counters.
// There is no cross-key locking; different callers never contend.
//
// # Storage
//
// The default store is a bounded in-memory map with LRU eviction and
// per-entry TTL, sized per group so memory stays bounded under
// address-spoofing floods. The DistributedStore interface allows a shared
// backend such as Redis (see the store subpackage).
package quotafence
