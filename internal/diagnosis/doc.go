// Package diagnosis runs the AI diagnosis pipeline.
//
// The Dispatcher turns a diagnosis request into at most one open session
// per vehicle and trigger kind and publishes a task message for it. The
// Worker consumes those messages, calls the AI server for every modality
// the evidence supports, and drives the session to DONE with a stored
// result or to FAILED. Redelivered messages for finished sessions are
// acknowledged without doing any work.
package diagnosis
