// Package collab provides real-time collaboration channels over
// WebSockets. Each event has its own channel; joining requires an access
// token and event-level access, and every message a participant sends is
// relayed verbatim to the other participants on the same channel. The
// channel carries no editing semantics of its own: persistence still goes
// through the HTTP API, and the relay is a notification fabric on top.
package collab
