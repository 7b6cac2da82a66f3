// Package bridgetest provides an in-memory bridge.Native for tests.
//
// The fake does not parse SQL. Queries are answered from results scripted
// with Script; unscripted queries succeed with no documents. Documents are
// plain Go values: map[string]any for dicts, []any for arrays, and bool,
// uint64, int64 (or int), float64, string or nil for scalars.
package bridgetest

import (
	"strconv"
	"strings"
	"sync"

	"github.com/duckstax/otterbrix-go/bridge"
)

// Result is the scripted outcome of a query.
type Result struct {
	Docs    []any
	Code    bridge.ErrorCode
	Message string
}

type cursor struct {
	docs []any
	pos  int
	code bridge.ErrorCode
	msg  string
}

type document struct {
	value any
}

// Fake implements bridge.Native in memory.
type Fake struct {
	mu sync.Mutex

	engines   *bridge.Arena[bridge.Config]
	cursors   *bridge.Arena[*cursor]
	documents *bridge.Arena[*document]

	results     map[string]Result
	databases   map[string]bool
	collections map[string]bool
	queries     []string

	// CreateErr, when set, is returned by Create.
	CreateErr error
	// OnExecute, when set, runs before a query is answered.
	OnExecute func(query string)
}

var _ bridge.Native = (*Fake)(nil)

// New creates an empty fake.
func New() *Fake {
	return &Fake{
		engines:     bridge.NewArena[bridge.Config](),
		cursors:     bridge.NewArena[*cursor](),
		documents:   bridge.NewArena[*document](),
		results:     make(map[string]Result),
		databases:   make(map[string]bool),
		collections: make(map[string]bool),
	}
}

// Script registers the result returned for query.
func (f *Fake) Script(query string, r Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[query] = r
}

// Queries returns the queries executed so far.
func (f *Fake) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// Live returns the number of engines, cursors and documents not yet released.
func (f *Fake) Live() (engines, cursors, documents int) {
	return f.engines.Len(), f.cursors.Len(), f.documents.Len()
}

func (f *Fake) Create(cfg bridge.Config, database, collection string) (bridge.Handle, error) {
	if f.CreateErr != nil {
		return 0, f.CreateErr
	}
	f.mu.Lock()
	if database != "" {
		f.databases[database] = true
		if collection != "" {
			f.collections[database+"."+collection] = true
		}
	}
	f.mu.Unlock()
	return f.engines.Insert(cfg), nil
}

func (f *Fake) Destroy(engine bridge.Handle) error {
	if _, ok := f.engines.Remove(engine); !ok {
		return bridge.ErrInvalidHandle
	}
	return nil
}

func (f *Fake) newCursor(r Result) bridge.Handle {
	return f.cursors.Insert(&cursor{docs: r.Docs, pos: -1, code: r.Code, msg: r.Message})
}

func (f *Fake) ExecuteSQL(engine bridge.Handle, query string) (bridge.Handle, error) {
	if _, ok := f.engines.Get(engine); !ok {
		return 0, bridge.ErrInvalidHandle
	}
	if f.OnExecute != nil {
		f.OnExecute(query)
	}

	f.mu.Lock()
	f.queries = append(f.queries, query)
	r := f.results[query]
	f.mu.Unlock()

	return f.newCursor(r), nil
}

func (f *Fake) CreateDatabase(engine bridge.Handle, database string) (bridge.Handle, error) {
	if _, ok := f.engines.Get(engine); !ok {
		return 0, bridge.ErrInvalidHandle
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.databases[database] {
		return f.newCursor(Result{Code: bridge.CodeDatabaseAlreadyExists, Message: database}), nil
	}
	f.databases[database] = true
	return f.newCursor(Result{}), nil
}

func (f *Fake) CreateCollection(engine bridge.Handle, database, collection string) (bridge.Handle, error) {
	if _, ok := f.engines.Get(engine); !ok {
		return 0, bridge.ErrInvalidHandle
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.databases[database] {
		return f.newCursor(Result{Code: bridge.CodeDatabaseNotExists, Message: database}), nil
	}
	name := database + "." + collection
	if f.collections[name] {
		return f.newCursor(Result{Code: bridge.CodeCollectionAlreadyExists, Message: name}), nil
	}
	f.collections[name] = true
	return f.newCursor(Result{}), nil
}

func (f *Fake) CursorSize(h bridge.Handle) int {
	c, ok := f.cursors.Get(h)
	if !ok {
		return 0
	}
	return len(c.docs)
}

func (f *Fake) CursorHasNext(h bridge.Handle) bool {
	c, ok := f.cursors.Get(h)
	if !ok {
		return false
	}
	return c.pos+1 < len(c.docs)
}

func (f *Fake) docAt(c *cursor, i int) bridge.Handle {
	if i < 0 || i >= len(c.docs) {
		return 0
	}
	return f.documents.Insert(&document{value: c.docs[i]})
}

func (f *Fake) CursorNext(h bridge.Handle) bridge.Handle {
	c, ok := f.cursors.Get(h)
	if !ok {
		return 0
	}
	c.pos++
	return f.docAt(c, c.pos)
}

func (f *Fake) CursorGet(h bridge.Handle) bridge.Handle {
	c, ok := f.cursors.Get(h)
	if !ok {
		return 0
	}
	return f.docAt(c, max(c.pos, 0))
}

func (f *Fake) CursorGetByIndex(h bridge.Handle, index int) bridge.Handle {
	c, ok := f.cursors.Get(h)
	if !ok {
		return 0
	}
	// The native side takes an int32 position.
	return f.docAt(c, int(int32(index))) // #nosec G115
}

func (f *Fake) CursorIsSuccess(h bridge.Handle) bool {
	c, ok := f.cursors.Get(h)
	return ok && c.code == bridge.CodeNone
}

func (f *Fake) CursorIsError(h bridge.Handle) bool {
	c, ok := f.cursors.Get(h)
	return ok && c.code != bridge.CodeNone
}

func (f *Fake) CursorError(h bridge.Handle) (bridge.ErrorCode, string) {
	c, ok := f.cursors.Get(h)
	if !ok {
		return bridge.CodeOther, bridge.ErrInvalidHandle.Error()
	}
	return c.code, c.msg
}

func (f *Fake) ReleaseCursor(h bridge.Handle) {
	f.cursors.Remove(h)
}

func (f *Fake) value(h bridge.Handle) (any, bool) {
	d, ok := f.documents.Get(h)
	if !ok {
		return nil, false
	}
	return d.value, true
}

func (f *Fake) DocumentID(h bridge.Handle) string {
	v, _ := f.value(h)
	if m, ok := v.(map[string]any); ok {
		if id, ok := m["_id"].(string); ok {
			return id
		}
	}
	return ""
}

func (f *Fake) DocumentIsValid(h bridge.Handle) bool {
	_, ok := f.value(h)
	return ok
}

func (f *Fake) DocumentIsArray(h bridge.Handle) bool {
	v, _ := f.value(h)
	_, ok := v.([]any)
	return ok
}

func (f *Fake) DocumentIsDict(h bridge.Handle) bool {
	v, _ := f.value(h)
	_, ok := v.(map[string]any)
	return ok
}

func (f *Fake) DocumentCount(h bridge.Handle) int {
	v, _ := f.value(h)
	switch t := v.(type) {
	case map[string]any:
		return len(t)
	case []any:
		return len(t)
	}
	return 0
}

// lookup resolves sel inside the document held by h.
func (f *Fake) lookup(h bridge.Handle, sel bridge.Selector) (any, bool) {
	v, ok := f.value(h)
	if !ok {
		return nil, false
	}
	if sel.ByIndex {
		return child(v, strconv.Itoa(int(sel.Index)))
	}
	if sel.Key == "" {
		return v, true
	}
	for _, seg := range strings.Split(strings.TrimPrefix(sel.Key, "/"), "/") {
		seg = strings.ReplaceAll(strings.ReplaceAll(seg, "~1", "/"), "~0", "~")
		if v, ok = child(v, seg); !ok {
			return nil, false
		}
	}
	return v, true
}

func child(v any, seg string) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		c, ok := t[seg]
		return c, ok
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(t) {
			return nil, false
		}
		return t[i], true
	}
	return nil, false
}

func (f *Fake) DocumentIs(h bridge.Handle, kind bridge.Kind, sel bridge.Selector) bool {
	v, ok := f.lookup(h, sel)
	if !ok {
		return false
	}
	switch kind {
	case bridge.KindExist:
		return true
	case bridge.KindNull:
		return v == nil
	case bridge.KindBool:
		_, ok = v.(bool)
	case bridge.KindUlong:
		_, ok = v.(uint64)
	case bridge.KindLong:
		switch v.(type) {
		case int64, int:
			ok = true
		default:
			ok = false
		}
	case bridge.KindDouble:
		_, ok = v.(float64)
	case bridge.KindString:
		_, ok = v.(string)
	case bridge.KindArray:
		_, ok = v.([]any)
	case bridge.KindDict:
		_, ok = v.(map[string]any)
	default:
		ok = false
	}
	return ok
}

func (f *Fake) DocumentBool(h bridge.Handle, sel bridge.Selector) bool {
	v, _ := f.lookup(h, sel)
	b, _ := v.(bool)
	return b
}

func (f *Fake) DocumentUlong(h bridge.Handle, sel bridge.Selector) uint64 {
	v, _ := f.lookup(h, sel)
	u, _ := v.(uint64)
	return u
}

func (f *Fake) DocumentLong(h bridge.Handle, sel bridge.Selector) int64 {
	v, _ := f.lookup(h, sel)
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

func (f *Fake) DocumentDouble(h bridge.Handle, sel bridge.Selector) float64 {
	v, _ := f.lookup(h, sel)
	d, _ := v.(float64)
	return d
}

func (f *Fake) DocumentString(h bridge.Handle, sel bridge.Selector) string {
	v, _ := f.lookup(h, sel)
	s, _ := v.(string)
	return s
}

func (f *Fake) DocumentArray(h bridge.Handle, sel bridge.Selector) bridge.Handle {
	v, _ := f.lookup(h, sel)
	if _, ok := v.([]any); !ok {
		return 0
	}
	return f.documents.Insert(&document{value: v})
}

func (f *Fake) DocumentDict(h bridge.Handle, sel bridge.Selector) bridge.Handle {
	v, _ := f.lookup(h, sel)
	if _, ok := v.(map[string]any); !ok {
		return 0
	}
	return f.documents.Insert(&document{value: v})
}

func (f *Fake) ReleaseDocument(h bridge.Handle) {
	f.documents.Remove(h)
}
