// Package arrow converts query results to Apache Arrow records.
// This package implements:
// - Row extraction from engine cursors
// - Arrow schema inference from document values
// - Arrow IPC serialization for transfer to clients
package arrow
