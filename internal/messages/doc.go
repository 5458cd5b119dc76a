// Package messages defines the JSON envelopes carried on the broker
// and the fixed mapping from message type to routing key.
//
// The routing table is shared between the consumer registry and the
// dead-letter recovery loop so that a recovered message always returns
// to the queue its type belongs to.
package messages
