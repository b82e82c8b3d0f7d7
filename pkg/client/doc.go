/*
Package client implements the resilient HTTP client shared by both
upstream gateways. One Client is instantiated per external service; the
roster gateway pairs it with a refreshing TokenSource, the access log
gateway with a StaticToken.

# Retry policy

The policy distinguishes four response classes:

	┌──────────────┬────────────────────────────────────────────────┐
	│ 401          │ one token refresh per logical request, then    │
	│              │ AuthError                                      │
	│ 429          │ wait retry-after + 3s, retry without a cap     │
	│ 500          │ uniform 1-3s backoff, at most 3 attempts,      │
	│              │ then UpstreamError                             │
	│ other 4xx/5xx│ UpstreamError immediately                      │
	└──────────────┴────────────────────────────────────────────────┘

Transport failures surface as NetworkError. Backoff waits suspend only
the calling goroutine, so concurrently fanned-out requests keep moving.
The sleep function and 500-backoff generator are injectable so tests can
assert the policy without real waiting.
*/
package client
