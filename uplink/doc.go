// Package uplink owns the logical connection to the remote ingestion
// endpoint and the delivery guarantees of the fix stream.
//
// High-level overview:
//
// Supervisor calls Session.Send with one fix at a time
// |-> Session asks the path monitor for the currently usable paths
//     |-> No usable path: the fix goes into the retry buffer and a
//         reconnect is scheduled with exponential backoff. Send never
//         blocks on a dead uplink.
//     |-> Usable paths exist: the fix is framed as one newline-
//         terminated record and written to the monitored connection
//         under the send timeout. A short or failed write tears the
//         connection down so a partial record is never followed by
//         another record on the same stream.
// |-> The reconnect loop dials the transport again once the backoff
//     fires and a path is usable. Before the new connection is handed
//     back to Send, the buffered backlog is drained oldest first, so
//     transmission order matches capture order.
//
// The transport underneath is exchangeable: plain TCP (with kernel
// MPTCP doing the actual path aggregation), a QUIC stream, a SCION
// pan connection, or a WebSocket for deployments where only HTTP
// egress is open. All of them appear to the session as the same
// write-only byte stream.
package uplink
