// Package preflight provides readiness checks for the filesystem paths and
// external pieces the daemon depends on.
//
// These checks run in two contexts:
//   - daemonrun calls RunAll before starting subsystems; a failed check
//     there is fatal, since a missing player binary or unwritable state
//     directory dooms every later operation.
//   - The CLI status command uses the FromConfig helpers to display
//     readiness without starting anything.
package preflight
