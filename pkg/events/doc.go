// Package events provides an in-process publish/subscribe broker for job
// lifecycle and attendance events. Events carry no control-flow meaning;
// they exist so observers (the logging consumer in cmd/rollcall) can see
// what the scheduler and engine did without being in their call path.
package events
