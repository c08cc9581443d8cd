// Package scheduler runs a function at a fixed interval behind a handle that
// can be cancelled.
//
// # Why Scheduler Exists
//
// The heartbeat re-checks storage on a fixed cadence for as long as a runner
// page is open. A bare ticker leaves two problems to every caller: stopping
// it exactly once, and keeping a panicking tick from killing the loop.
//
// # How It Works
//
//   - Every starts a goroutine that calls the function once per interval.
//   - Each call runs inside a recover boundary. Errors and panics are handed
//     to the OnError hook and the loop continues.
//   - Ticks never overlap: a slow call delays the next one instead of running
//     concurrently with it.
//   - Cancel stops the loop; calling it again is a no-op. Wait blocks until
//     the goroutine has exited.
package scheduler
