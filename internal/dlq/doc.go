// Package dlq drains the dead-letter queue back into the work queues
// at startup.
//
// Messages land in the DLQ when their origin queue dead-letters them
// (TTL expiry or broker-side rejection). Recovery republishes each one
// to its origin queue, determined from the MessageType header with the
// broker's x-death record as fallback, after stripping the dead-letter
// bookkeeping so the message cannot expire again in flight. The
// republish happens before the ack: a crash between the two duplicates
// a message, which the idempotent consumers absorb, instead of losing
// one.
package dlq
