/*
Package protocol implements the binary wire format spoken between a debug client and the debug server. Every message is a self-delimiting frame, so a connection can carry any number of requests and responses back to back.

A frame is a little-endian uint32 length followed by that many bytes. The first byte of the body is a discriminator naming the message kind, and the remaining bytes are that kind's fields in declaration order. Commands (client->server) and responses (server->client) use disjoint discriminator ranges, see types.go.

Field encodings:

  - integers are fixed width, little-endian
  - bools are a single 0 or 1 byte
  - strings and byte slices are a uint32 length followed by the bytes
  - slices are a uint32 count followed by the elements
  - maps are a uint32 count followed by key/value pairs, keys sorted
  - times are int64 Unix seconds followed by int32 nanoseconds, UTC
  - durations are int64 milliseconds

An empty slice, map or byte string is encoded exactly like a nil one, and always decodes as nil.

A frame with length 0 is a ping. The server answers every ping with an empty frame (a pong) and keeps reading; pings are never surfaced as commands.

A Compressed command carries the deflate-compressed body of exactly one other command. It is unwrapped during decoding, so callers only ever see the inner command.

The protocol proceeds as follows:

1. The client opens a TCP (or WebSocket) connection with the server.
2. The client sends ExchangeVersions and receives the server's CapabilityInfo. Any other first command closes the connection.
3. The client sends one command at a time. The server answers each with exactly one response, in order.
4. Either side closes the connection when done.

Decoding is all-or-nothing: a frame that is oversized, truncated, carries an unknown discriminator or has bytes left over after its last field yields a *ProtocolError, and the connection it came from cannot be resynchronized.
*/
package protocol
