// Package privileged runs the mount script through an elevation wrapper.
//
// # Logging Verbosity Convention
//
//   - V(2): Production default - process start and exit
//   - V(4): Debug level - rendered command line, process group handling
//   - V(5): Trace level - combined script output
//
// A Runner returns an error only when the script never ran to completion on
// its own: it could not be spawned, or it was killed by the run deadline.
// A non-zero exit is a normal result and is reported in ExitResult.ExitCode.
package privileged
