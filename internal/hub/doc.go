// Package hub is the communication hub tying protocols, storage, and the
// event bus together.
//
// The hub owns no transport of its own. It instantiates protocol
// handlers from configuration, fans discovery out across them, routes
// device commands by the owning protocol recorded in the store, and
// subscribes to the bus to persist what the handlers report.
//
// Failure policy: tolerant everywhere. One handler failing to start,
// discover, or deliver never affects the others, and persistence errors
// are logged without interrupting event flow.
package hub
