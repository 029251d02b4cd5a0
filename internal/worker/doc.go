// Package worker runs one bounded execution of the generation worker: it pulls
// batches from the queue, drives each request through the Request Store state
// machine, consults the Content Cache Index, invokes the pipeline, and decides
// per message whether to ack, nack or leave it for redelivery.
//
// An execution ends when its max runtime elapses or when no message has
// arrived for the idle timeout, whichever comes first. Counters and the
// last-message timestamp belong to the execution, not to the package.
package worker
