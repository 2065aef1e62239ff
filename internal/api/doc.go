// Package api exposes the exchange office over HTTP: the rate table consumed by
// the bank's other services, forced refreshes, conversion quotes and the
// commission fee. Routing is done with chi; request ids, access logs, panic
// recovery, per-client rate limiting and CORS are applied as middleware.
package api
