package bridge

import (
	"math"
	"strconv"
)

// Kind selects which type predicate a document query asks about.
type Kind int

const (
	KindExist Kind = iota
	KindNull
	KindBool
	KindUlong
	KindLong
	KindDouble
	KindString
	KindArray
	KindDict
)

var kindNames = [...]string{"exist", "null", "bool", "ulong", "long", "double", "string", "array", "dict"}

func (k Kind) String() string {
	if k < KindExist || k > KindDict {
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
	return kindNames[k]
}

// Selector addresses an element of a document either by JSON pointer key or
// by position.
type Selector struct {
	Key     string
	Index   int32
	ByIndex bool
}

// ByKey selects the element at a JSON pointer.
func ByKey(key string) Selector { return Selector{Key: key} }

// ValidIndex reports whether position i is addressable on the native side,
// which takes int32 positions.
func ValidIndex(i int) bool { return i >= 0 && i <= math.MaxInt32 }

// ByIndex selects the element at position i. Positions that fail ValidIndex
// select nothing.
func ByIndex(i int) Selector {
	if !ValidIndex(i) {
		return Selector{Index: -1, ByIndex: true}
	}
	return Selector{Index: int32(i), ByIndex: true}
}

func (s Selector) String() string {
	if s.ByIndex {
		return "[" + strconv.Itoa(int(s.Index)) + "]"
	}
	return strconv.Quote(s.Key)
}

// Native is the engine surface exported by libotterbrix. Implementations
// are not required to be safe for concurrent use; callers serialize access.
//
// Methods taking a Handle that the implementation does not know return zero
// values.
type Native interface {
	Create(cfg Config, database, collection string) (Handle, error)
	Destroy(engine Handle) error
	ExecuteSQL(engine Handle, query string) (Handle, error)
	CreateDatabase(engine Handle, database string) (Handle, error)
	CreateCollection(engine Handle, database, collection string) (Handle, error)

	CursorSize(cursor Handle) int
	CursorHasNext(cursor Handle) bool
	CursorNext(cursor Handle) Handle
	CursorGet(cursor Handle) Handle
	CursorGetByIndex(cursor Handle, index int) Handle
	CursorIsSuccess(cursor Handle) bool
	CursorIsError(cursor Handle) bool
	CursorError(cursor Handle) (ErrorCode, string)
	ReleaseCursor(cursor Handle)

	DocumentID(doc Handle) string
	DocumentIsValid(doc Handle) bool
	DocumentIsArray(doc Handle) bool
	DocumentIsDict(doc Handle) bool
	DocumentCount(doc Handle) int
	DocumentIs(doc Handle, kind Kind, sel Selector) bool
	DocumentBool(doc Handle, sel Selector) bool
	DocumentUlong(doc Handle, sel Selector) uint64
	DocumentLong(doc Handle, sel Selector) int64
	DocumentDouble(doc Handle, sel Selector) float64
	DocumentString(doc Handle, sel Selector) string
	DocumentArray(doc Handle, sel Selector) Handle
	DocumentDict(doc Handle, sel Selector) Handle
	ReleaseDocument(doc Handle)
}
