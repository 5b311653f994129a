// Package codec implements the dDoc wire framing.
//
// Every message is a frame:
//
//	+--------+----------------------+------------------------+
//	| kind   | length (uint32, BE)  | payload (UTF-8 JSON)   |
//	| 1 byte | 4 bytes              | length bytes           |
//	+--------+----------------------+------------------------+
//
// The kind byte is a common.MessageType. The payload is a JSON mapping whose fields
// depend on the kind (see common.Request and common.Response).
//
// Errors are split by whether the stream can continue. A truncated frame or a declared
// length above the configured limit is fatal: the reader can no longer find the next
// frame boundary and the connection has to be closed. A well-framed payload that is not
// valid JSON is not fatal; the server answers it with an ERROR frame and keeps reading.
package codec
