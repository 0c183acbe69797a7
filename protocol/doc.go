package protocol

// This package implements parsing and serialising the datagrams of LRCP, the
// line reversal control protocol that lrcp speaks with its clients.
//
// LRCP provides a reliable, ordered byte stream per session on top of UDP. Every
// datagram carries exactly one message and every message is plain ASCII.
//
// - `Session` - A client chosen 32bit identifier. All messages carry one.
// - `Position` - A byte offset into the session's stream. Each direction of a
//                session has its own stream and so its own positions.
//
// === General Syntax
//
// - a message begins and ends with `/`
// - fields are separated by `/`
// - numeric fields are base-10 unsigned 32bit integers
// - a datagram must be smaller than 1000 bytes
//
// === Connect
//
//   ```
//     /connect/SESSION/
//   ```
//
// Opens a session. The server replies with `/ack/SESSION/0/`, every time it
// receives a connect, so clients can resend connects until they see the ack.
//
// === Data
//
//   ```
//     /data/SESSION/POS/DATA/
//   ```
//
// Carries stream bytes starting at POS. Inside DATA a `\` is sent as `\\` and a
// `/` is sent as `\/`. Escaping replaces backslashes first and slashes second,
// unescaping walks the field once from left to right so neither step ever sees
// the output of the other.
//
// === Ack
//
//   ```
//     /ack/SESSION/LENGTH/
//   ```
//
// Confirms that the receiver holds the first LENGTH bytes of the stream.
//
// === Close
//
//   ```
//     /close/SESSION/
//   ```
//
// Closes the session. Peers reply with a close of their own.
//
// === Malformed messages
//
// Datagrams that fail to parse are dropped without a reply. Every parse error
// wraps ErrMalformedMessage so callers only need one errors.Is check.
//
