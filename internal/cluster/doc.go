// Package cluster defines the messages exchanged between the coordinator and
// worker processes and the HTTP/JSON plumbing that carries them.
//
// # Protocol
//
// All traffic is JSON over HTTP. Worker to coordinator:
//
//	POST /register  RegisterRequest   announce id and control address
//	POST /work      WorkRequest       blocking; answered with an Assignment
//	POST /found     FoundRequest      report a matching key
//
// Coordinator to worker, on the worker's control endpoint:
//
//	POST /control   ControlMessage{start}  ciphertext, sent once before any work
//	POST /control   ControlMessage{abort}  stop scanning, the run is complete
//
// An Assignment is one of unit, terminate or abort. Terminate is the normal
// end of a worker's life once the key space is exhausted; abort means another
// worker already found the key.
//
// # Ordering
//
// Each worker has at most one request in flight, so messages from one worker
// reach the coordinator in send order. Nothing orders messages of different
// workers; the coordinator accepts the first found key it processes.
//
// # Failures
//
// Requests use a 5 second client timeout. There are no retries except for
// registration: a lost work request or found report is a run-level failure
// surfaced to the caller.
package cluster
