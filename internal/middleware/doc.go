// Package middleware provides the HTTP middleware of the admin server:
// structured request logging and Prometheus request metrics.
package middleware
