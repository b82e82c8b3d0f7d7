/*
Package reconciler computes who was physically present and drives the
daily attendance state machine.

# State machine

Each school day passes through two states:

	┌─────────────────────────┐      present >= threshold      ┌────────────────────┐
	│ Window-Close Evaluation │ ─────────────────────────────► │ Late-Arrival Sweep │
	└───────────┬─────────────┘                                └─────────┬──────────┘
	            │ present < threshold                                    │ absent set empty
	            ▼                                                        │ or dismissal passed
	   not a school day:                                                 ▼
	   log, no writes, no sweep                                  sweep cancels itself

Window-close evaluation subtracts the distinct scan actors in the
attendance window from the eligible roster and marks the remainder
absent. The sweep re-queries scans since window close on each tick and
promotes returning members to late arrival. The absent set only ever
shrinks; a member removed once is never reconsidered in a later tick.

Scan actors with no roster counterpart (visitor and staff badges) are
ignored. A member listed under two groupings counts once.
*/
package reconciler
