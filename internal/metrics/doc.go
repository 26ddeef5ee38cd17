// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Open connections and connection churn
//   - Live rooms and seated players
//   - Client requests by action and result code
//   - Published and dropped frames, slow-consumer disconnects
package metrics
