// Package audit defines the audit event model and its delivery path.
//
// Components emit through an [Emitter], which timestamps events, copies the
// correlation id from the context, redacts Brazilian document numbers and
// credentials, and replaces raw origins with a keyed hash. The emitter
// writes to a [Dispatcher] or directly to a [Sink].
package audit
