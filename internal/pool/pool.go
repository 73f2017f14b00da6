// Package pool provides three interchangeable worker-pool implementations,
// all satisfying the same spawn-a-job contract: Naive (one goroutine per
// job, for tests), SharedQueue (a fixed-size pool that survives job panics
// without losing capacity), and Stealing (a thin wrapper over a
// work-stealing goroutine runtime).
package pool

// Job is a single unit of work submitted to a Pool. Jobs execute exactly
// once.
type Job func()

// Pool spawns jobs for execution, without blocking the caller beyond
// enqueueing.
type Pool interface {
	// Spawn submits job for execution. It returns an error if the pool has
	// already been shut down.
	Spawn(job Job) error

	// Shutdown stops accepting new jobs. Naive and SharedQueue also wait
	// for in-flight jobs to finish; Stealing does not wait.
	Shutdown()
}
