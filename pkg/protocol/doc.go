// Package protocol implements the swarmchat contact and chat protocol.
//
// The protocol rides on a pss-style messaging substrate (see the transport
// package): topic-scoped publish/subscribe with public-key-addressed
// asymmetric delivery. On the wire every message is a hex-encoded JSON
// envelope carrying a protocol tag, a message type and a typed payload.
//
// # Message Types
//
// Contact handshake:
//   - contact_request: invitation carrying the shared topic the requester
//     wants to use for the chat channel, plus optional username/greeting
//   - contact_response: accept (with overlay address and username) or
//     decline (bare, leaking no identity)
//
// Chat channel:
//   - chat_message: text message on an established shared topic
//
// # Topics
//
// Three topic roles exist. The inbox topic is derived from a party's own
// public key; every contact request addressed to that party arrives there.
// The contact topic is derived from the counterparty's public key; both
// sides converge on it independently, so the handshake needs no prior
// exchange. The shared topic is derived from a random seed generated by
// the requester and carried inside the contact request; all chat messages
// for that contact relationship flow over it.
//
// # State
//
// The protocol layer keeps no per-contact state. Send operations are
// stateless and subscriptions emit discrete typed events; the consumer
// folds those events into contact state (see the storage package).
package protocol
