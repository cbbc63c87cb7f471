/*
Package pool schedules optimize tasks across a growing set of isolated
execution units.

Each unit is a goroutine with its own request channel; replies flow back
through a shared channel tagged with a monotonically increasing correlation
id, and a single bookkeeping loop matches them to outstanding Dispatch
calls. A panic inside a unit rejects that unit's in-flight calls with
*WorkerFault and replaces the goroutine on the same slot, so a poisoned
image never takes the pool down.

Sizing combines the queued item count with CPU and memory hints; see
TargetSize. The pool only grows within a process lifetime.
*/
package pool
