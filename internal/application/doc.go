// Package application provides application initialization and dependency wiring.
// It encapsulates the creation of the exchange table storage, the rate provider
// client, the exchange service, the refresh scheduler, handlers, routers and the
// HTTP server, making the main package cleaner and more focused on CLI parsing
// and orchestration. Tests build an App through the same factory.
package application
