/*
Package roster is the gateway to the roster service, the system of
record for members, dismissal routing, and attendance status.

The gateway owns three concerns:

  - authentication: a multi-step handshake (tenant, identity, token)
    run once at startup; later 401s re-run only the token step
  - the eligible roster: attendance groupings filtered by dismissal
    location, rows fetched concurrently, profiles cached per process
  - batch status writes: idempotent per member, failure-isolated, with
    dismissal-change capture on absent marks and restoration when a
    member arrives late

All fan-out respects the engine's configured concurrency bound. Dry-run
mode replaces every write with a log line but still counts the write as
attempted.
*/
package roster
