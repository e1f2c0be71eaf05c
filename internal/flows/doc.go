// Package flows contains pure-function orchestrators for Engine operations.
//
// RunValidate checks a bearer token and RunAuthenticate runs the full
// request pipeline: token, session, rate limit, origin binding and
// permission. Each accepts a typed dependency struct built once by the
// Engine, so tests can drive every stage with stubs.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import the root clinicguard package (to avoid import cycles).
//   - Perform I/O directly. All I/O goes through dependency closures.
package flows
