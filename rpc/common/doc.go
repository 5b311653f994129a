// Package common provides the types shared by the dDoc server, client and CLI.
//
// Key Components:
//
//   - MessageType: The kind byte of a frame. The numeric values are part of the wire
//     format: INSERT=1, UPDATE=2, DELETE=3, FIND=4, FIND_ONE=5, RESPONSE=6, ERROR=7,
//     LIST_COLLECTIONS=8.
//
//   - Request/Response: Typed views of frame payloads with factory methods for every
//     operation. ParseRequest checks a payload against the field table of its kind and
//     reports problems as validation errors of the store package. Payload renders the
//     wire form again.
//
//   - ServerConfig/ClientConfig: Configuration for the server and for clients, with a
//     table style String method for startup logs.
//
//   - Logger: A logger factory plugged into Dragonboat's logger package so every
//     package logs through named loggers with a common format. InitLoggers sets the
//     level for all of them.
package common
