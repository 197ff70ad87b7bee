// Package mount runs the privileged mount script once per startup event and
// keeps the status indicator in step with it.
//
// A run is strictly ordered: post "starting", spawn the mount command, block
// until it terminates, post the terminal indicator. The terminal indicator is
// always posted once the runner has returned, and it never reads "completed"
// when the process failed to spawn or was killed by the run timeout.
//
// # Logging Verbosity Convention
//
// This package follows Kubernetes logging conventions for verbosity levels:
//
//   - V(0): Always visible - run failures, recovered panics
//   - V(2): Production default - run outcomes, state changes
//     Examples: "Mount run abc completed in 1.2s", "Mount run abc failed: exit status 1"
//   - V(4): Debug level - intermediate steps, parameters, diagnostics
//     Examples: "Checking expected mount /mnt/data"
//   - V(5): Trace level - mount table parsing details
//
// V(3) is avoided in favor of V(2) (if actionable) or V(4) (if diagnostic).
//
// Production deployments use V(2) by default. Set --v=4 for troubleshooting.
package mount
