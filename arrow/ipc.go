package arrow

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ErrNoRecords is returned when IPC data holds a schema but no record.
var ErrNoRecords = errors.New("no records in IPC data")

// IPCWriter writes Arrow records to the IPC stream format.
type IPCWriter struct {
	allocator memory.Allocator
}

// NewIPCWriter creates a new IPCWriter.
func NewIPCWriter() *IPCWriter {
	return &IPCWriter{
		allocator: memory.DefaultAllocator,
	}
}

// SerializeToIPC serializes one record to IPC bytes.
func (w *IPCWriter) SerializeToIPC(record arrow.Record) ([]byte, error) {
	if record == nil {
		return nil, errors.New("record is nil")
	}
	return w.SerializeMultipleToIPC([]arrow.Record{record})
}

// DeserializeFromIPC reads the first record of IPC bytes. The caller owns
// the returned record and must release it.
func (w *IPCWriter) DeserializeFromIPC(data []byte) (arrow.Record, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(w.allocator))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		if reader.Err() != nil {
			return nil, reader.Err()
		}
		return nil, ErrNoRecords
	}

	record := reader.Record()
	record.Retain()

	return record, nil
}

// SerializeMultipleToIPC serializes records sharing one schema.
func (w *IPCWriter) SerializeMultipleToIPC(records []arrow.Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to serialize")
	}

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(records[0].Schema()), ipc.WithAllocator(w.allocator))
	defer writer.Close()

	for i, record := range records {
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	return buf.Bytes(), nil
}
