// Package registry provides task record storage for the lifecycle
// controller.
//
// The registry is the system of record for Task rows: it enforces id
// uniqueness and the status enum at the storage layer. Two implementations
// are provided:
//
//   - Memory: in-process map, for tests and throwaway setups.
//   - SQLite: durable single-file database (pure-Go driver, no CGO), for
//     deployments that must survive restarts.
//
// The lifecycle controller is the only component that writes status
// values; everything else reads. List results are ordered newest first and
// support status/owner filtering with limit/offset pagination.
package registry
