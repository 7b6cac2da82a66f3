package network

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"

	oarrow "github.com/duckstax/otterbrix-go/arrow"
	"github.com/duckstax/otterbrix-go/bridge"
)

// ErrRemote is returned for endpoint errors that carry no native code.
var ErrRemote = errors.New("endpoint error")

// Request is a query sent to an Endpoint.
type Request struct {
	ID      string   `bson:"id"`
	SQL     string   `bson:"sql"`
	Columns []string `bson:"columns,omitempty"`
}

// Response answers a Request. Rows holds one document per result row keyed
// by column; Count is the number of documents the statement produced.
type Response struct {
	ID    string   `bson:"id"`
	OK    bool     `bson:"ok"`
	Code  int32    `bson:"code"`
	Error string   `bson:"error,omitempty"`
	Count int64    `bson:"count"`
	Rows  []bson.D `bson:"rows,omitempty"`
}

// Err returns the error carried by the response, or nil.
func (r Response) Err() error {
	if r.OK {
		return nil
	}
	if code := bridge.CodeFromNative(r.Code); code != bridge.CodeNone {
		return bridge.NewError(code, r.Error)
	}
	return fmt.Errorf("%w: %s", ErrRemote, r.Error)
}

func errorResponse(id string, err error) Response {
	resp := Response{ID: id, Error: err.Error()}
	var nerr *bridge.Error
	if errors.As(err, &nerr) {
		resp.Code = int32(nerr.Code)
		resp.Error = nerr.Message
	}
	return resp
}

// rowDocuments converts cursor rows to BSON documents. Unsigned values that
// do not fit int64 are sent as decimal strings; nested values as null.
func rowDocuments(columns []string, rows []oarrow.Row) []bson.D {
	docs := make([]bson.D, 0, len(rows))
	for _, row := range rows {
		doc := make(bson.D, 0, len(columns))
		for i, col := range columns {
			doc = append(doc, bson.E{Key: col, Value: bsonValue(row[i])})
		}
		docs = append(docs, doc)
	}
	return docs
}

func bsonValue(cell oarrow.Cell) any {
	switch cell.Kind {
	case bridge.KindArray, bridge.KindDict, bridge.KindNull:
		return nil
	case bridge.KindUlong:
		u, ok := cell.Value.(uint64)
		if !ok {
			break
		}
		if u > math.MaxInt64 {
			return strconv.FormatUint(u, 10)
		}
		return int64(u)
	}
	return cell.Value
}

func encode(v any) ([]byte, error) {
	data, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}
