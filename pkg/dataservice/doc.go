// Package dataservice issues the outbound GraphQL and REST calls that
// feed field resolution. One client serves both protocols behind the
// engine.DataServiceClient contract, with per-call timeouts, retry with
// exponential backoff on transient failures, a circuit breaker per
// endpoint, and bounded global and per-endpoint concurrency.
package dataservice
