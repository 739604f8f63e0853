// Package hapi is the host/accelerator offload layer.
//
// # Reading Guide
//
//   - accelerator.go: the Accelerator interface (the device runtime this package drives)
//   - stream.go: the Stream Pool and the compute-capability concurrency table
//   - buffer.go, idalloc.go: the Buffer Registry and its two-region ID allocator
//   - workrequest.go, executor.go: Work Requests and their staged execution
//   - manager.go: the per-process Manager facade; the only type callers need
//
// # Concurrency
//
// Every stage of a work request enqueues onto the request's stream and returns.
// Completion is observed only through the callback registered on the stream
// (see Completion). In-flight device work cannot be cancelled; a stalled device
// is a watchdog concern outside this package.
//
// Each shared resource has its own lock: stream growth, buffer pool, host
// mempool, device mapping and in-flight queue state.
//
// Implementations of Accelerator live in sub-packages and register themselves
// through NewAcceleratorFunc from an init() function (see hapi/hostdev).
package hapi
