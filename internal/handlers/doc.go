// Package handlers exposes the engine over HTTP.
//
// Everything goes through one endpoint, POST /api/action, which takes
// {"token", "action", "args"} and answers {"success": true, "data": ...} or
// {"success": false, "error": {"code", "message"}}. Actions come from a
// closed registry; an unknown action is a validation error. Batched actions
// whose items partly failed answer 207 with both data and a
// partial_failure error.
//
// The operational routes (health, liveness, readiness, version and the
// Prometheus handler for the metrics port) live here as well.
package handlers
