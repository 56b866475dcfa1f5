// Package relay implements the signaling relay: it accepts participant
// WebSocket connections, tracks room membership through the rooms
// registry, and forwards opaque negotiation payloads between
// participants.
//
// The relay is stateless per message. There is no queuing, retry, or
// persistence; a message aimed at a participant that is gone is dropped,
// and the synthetic leave broadcast on disconnect is the safety net that
// keeps the remaining peers' state consistent.
package relay
