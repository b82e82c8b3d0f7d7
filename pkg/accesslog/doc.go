// Package accesslog is the gateway to the physical access-control event
// log. It searches door-opening events in a bounded time window and
// hides pagination from callers: the first page sizes the result, the
// rest are fetched concurrently under the engine's fan-out bound.
package accesslog
