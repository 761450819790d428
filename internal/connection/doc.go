// Package connection implements the subscription connection manager.
//
// The manager:
//   - Owns a single WebSocket (graphql-transport-ws) connection per instance
//   - Authenticates with a connection_init frame before anything else is sent
//   - Queues outbound frames while the connection is not ready
//   - Replays the last frame of every live subscription after a reconnect
//   - Sends a ping frame on a fixed interval while ready
//   - Reconnects only when asked by ReconnectCheck, up to a hard ceiling
//   - Routes inbound frames to the subscription registry
package connection
