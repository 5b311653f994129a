// Package cmd implements the command-line interface of the dDoc document store. It
// provides a hierarchical command structure with operations for running the server
// and interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - doc: Client commands for document operations (insert, update, delete, find,
//     find-one, collections) and a load generator (perf)
//   - serve: Starts and configures the dDoc server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set through an environment variable named DDOC_<FLAG> with
// dashes replaced by underscores (e.g. DDOC_DATA_DIR=/var/lib/ddoc). Variables are also
// read from .env and .env.local in the working directory.
//
// See ddoc -help for a list of all commands.
package cmd
