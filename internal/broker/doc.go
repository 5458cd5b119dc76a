// Package broker adapts the AMQP message broker for the ingest
// pipeline.
//
// All queues are durable and carry a dead-letter binding to the single
// DLQ, so a message that exhausts broker retry is parked rather than
// dropped. Consumers use manual acknowledgement with a small prefetch:
// a crashing consumer loses at most prefetch in-flight messages, and
// those return to the queue unacknowledged.
//
// Handler errors decide message fate. A nil return acks. A poison
// error (see the jobs package) also acks, because redelivery can never
// succeed and the failure has been recorded downstream. Anything else
// nacks with requeue and the broker redelivers.
package broker
