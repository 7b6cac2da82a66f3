package api

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/duckstax/otterbrix-go/bridge"
)

// MaxMessageSize is the maximum allowed message size (50MB).
const MaxMessageSize = 50 * 1024 * 1024 // 50MB

var (
	// ErrMessageTooLarge is returned when a message exceeds MaxMessageSize.
	ErrMessageTooLarge = errors.New("message size exceeds maximum allowed size")
	// ErrRemote wraps failures reported by the server that did not come
	// from the engine.
	ErrRemote = errors.New("server error")
)

// ReadMessage reads a length-prefixed message from the reader.
// Format: [4 bytes length (BigEndian)] [N bytes payload]
func ReadMessage(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}

	if length > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes (max: %d)", ErrMessageTooLarge, length, MaxMessageSize)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}

	return buf, nil
}

// WriteMessage writes a length-prefixed message to the writer.
// Format: [4 bytes length (BigEndian)] [N bytes payload]
func WriteMessage(w io.Writer, data []byte) error {
	if len(data) > math.MaxUint32 {
		return fmt.Errorf("%w: data length %d exceeds uint32 max", ErrMessageTooLarge, len(data))
	}

	if len(data) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes (max: %d)", ErrMessageTooLarge, len(data), MaxMessageSize)
	}

	// Header and body go out in one write so frames never interleave.
	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data))) // #nosec G115 - bounds checked above
	copy(frame[4:], data)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

// readJSON reads one frame and decodes it into v.
func readJSON(r io.Reader, v any) error {
	data, err := ReadMessage(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	return nil
}

// writeJSON encodes v into one frame.
func writeJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return WriteMessage(w, data)
}

// Request is a query sent by a client. Columns name the values to return;
// when empty they are taken from the SELECT list.
type Request struct {
	ID      string   `json:"id"`
	SQL     string   `json:"sql"`
	Columns []string `json:"columns,omitempty"`
}

// Response is the header frame answering a Request. When HasBatch is set,
// an Arrow IPC frame with the result follows.
type Response struct {
	ID       string `json:"id"`
	OK       bool   `json:"ok"`
	Code     int32  `json:"code"`
	Error    string `json:"error,omitempty"`
	Rows     int64  `json:"rows"`
	HasBatch bool   `json:"has_batch"`
}

// errorResponse describes err. Engine errors keep their native code.
func errorResponse(id string, err error) Response {
	resp := Response{ID: id, Error: err.Error()}
	var nerr *bridge.Error
	if errors.As(err, &nerr) {
		resp.Code = int32(nerr.Code)
		resp.Error = nerr.Message
	}
	return resp
}

// Err returns the error the response carries, or nil.
func (r Response) Err() error {
	if r.OK {
		return nil
	}
	if code := bridge.CodeFromNative(r.Code); code != bridge.CodeNone {
		return &bridge.Error{Code: code, Message: r.Error}
	}
	return fmt.Errorf("%w: %s", ErrRemote, r.Error)
}
