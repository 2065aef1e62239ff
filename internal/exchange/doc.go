// Package exchange holds the exchange office domain: the rate table published
// to other services, the commission arithmetic, and the Service that keeps the
// table fresh from the upstream provider and converts amounts between currencies.
package exchange
