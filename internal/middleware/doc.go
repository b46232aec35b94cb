// Package middleware provides the HTTP middleware of the action server.
//
// It includes:
//   - Request ids, echoed from the client or generated
//   - Request logging in W3C Extended Log Format
//   - Prometheus request metrics labelled by route template
package middleware
