// Package logging builds the zap logger shared by the service and masks
// credentials before they reach log output.
package logging
