// Package deadletter moves jobs that exhausted their retries onto the
// dead-letter queue, consumes the entries parked there, and replays them on
// request.
//
// Every entry is a job of type core.DeadLetterJobType on the queue named
// core.DeadLetterQueue, enqueued with a single attempt so the dead-letter
// queue never retries or re-routes its own failures.
package deadletter
