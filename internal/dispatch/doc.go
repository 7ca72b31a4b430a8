package dispatch

// Deployment note: Engine's per-order registry is process-local. Running
// more than one dispatchd process against the same order store requires
// replacing the registry with a distributed lease keyed on order_id so two
// nodes cannot run the same order's auction concurrently; this package
// targets the single-writer-node deployment and does not implement that
// lease.
