/*
Package scheduler provides named recurring and bounded-recurrence jobs
for the rollcall engine.

A single dispatch loop checks for due jobs on a fixed tick. Callbacks
run in their own goroutines, but two invocations of the same named job
never overlap: a job whose previous invocation is still in flight is
skipped until it finishes, and a ScheduleJob request for a name with a
pending invocation is a logged no-op rather than an error.

Schedules are cron expressions (standard 5-field or @every descriptors),
fixed intervals, or intervals bounded by an end timestamp. A bounded job
disarms itself once its end passes, which is how the late-arrival sweep
terminates at school dismissal.

Drain stops the dispatch loop, refuses new work, and waits for in-flight
invocations; cancellation never interrupts a running callback.
*/
package scheduler
