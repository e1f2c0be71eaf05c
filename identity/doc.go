// Package identity holds the collaborators the permission evaluator asks
// about care assignments, consents and role bindings.
//
// Two implementations are provided: [memory] for tests and single-process
// deployments, and [postgres] for the shared identity database. Both
// satisfy [permission.AssignmentSource], [permission.ConsentSource] and
// [permission.BindingSource].
package identity
