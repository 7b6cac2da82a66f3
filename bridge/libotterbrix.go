//go:build cgo && otterbrix

package bridge

/*
#cgo CFLAGS: -I${SRCDIR}/../include
#cgo linux LDFLAGS: -L${SRCDIR}/../lib -lotterbrix -lstdc++ -lm -ldl -lpthread
#cgo darwin LDFLAGS: -L${SRCDIR}/../lib -lotterbrix -lc++

#include <stdlib.h>
#include "otterbrix.h"
*/
import "C"

import (
	"runtime"
	"unsafe"
)

func init() {
	if unsafe.Sizeof(StringPasser{}) != uintptr(C.sizeof_string_passer_t) {
		panic("bridge: StringPasser layout does not match string_passer_t")
	}
	if unsafe.Sizeof(TransferConfig{}) != uintptr(C.sizeof_config_t) {
		panic("bridge: TransferConfig layout does not match config_t")
	}
}

// library binds Native to libotterbrix.
type library struct {
	engines   *Arena[unsafe.Pointer]
	cursors   *Arena[unsafe.Pointer]
	documents *Arena[unsafe.Pointer]
}

// Load returns the Native implementation backed by the linked libotterbrix.
func Load() (Native, error) {
	return &library{
		engines:   NewArena[unsafe.Pointer](),
		cursors:   NewArena[unsafe.Pointer](),
		documents: NewArena[unsafe.Pointer](),
	}, nil
}

// Available reports whether libotterbrix is linked.
func Available() bool { return true }

func cPasser(s string, pin *runtime.Pinner) (C.string_passer_t, error) {
	sp, err := NewStringPasser(s, pin)
	if err != nil {
		return C.string_passer_t{}, err
	}
	return *(*C.string_passer_t)(unsafe.Pointer(&sp)), nil
}

// takeString copies a native string and frees the native buffer.
func takeString(p *C.char) string {
	if p == nil {
		return ""
	}
	defer C.free(unsafe.Pointer(p))
	return C.GoString(p)
}

func (l *library) Create(cfg Config, database, collection string) (Handle, error) {
	var pin runtime.Pinner
	defer pin.Unpin()

	tc, err := Flatten(cfg, &pin)
	if err != nil {
		return 0, err
	}
	db, err := cPasser(database, &pin)
	if err != nil {
		return 0, err
	}
	coll, err := cPasser(collection, &pin)
	if err != nil {
		return 0, err
	}

	ptr := C.otterbrix_create(*(*C.config_t)(unsafe.Pointer(&tc)), db, coll)
	if ptr == nil {
		return 0, ErrNullHandle
	}
	return l.engines.Insert(unsafe.Pointer(ptr)), nil
}

func (l *library) Destroy(engine Handle) error {
	ptr, ok := l.engines.Remove(engine)
	if !ok {
		return ErrInvalidHandle
	}
	C.otterbrix_destroy(C.otterbrix_ptr(ptr))
	return nil
}

func (l *library) cursor(ptr C.cursor_ptr) (Handle, error) {
	if ptr == nil {
		return 0, ErrNullHandle
	}
	return l.cursors.Insert(unsafe.Pointer(ptr)), nil
}

func (l *library) ExecuteSQL(engine Handle, query string) (Handle, error) {
	ptr, ok := l.engines.Get(engine)
	if !ok {
		return 0, ErrInvalidHandle
	}
	var pin runtime.Pinner
	defer pin.Unpin()

	q, err := cPasser(query, &pin)
	if err != nil {
		return 0, err
	}
	return l.cursor(C.execute_sql(C.otterbrix_ptr(ptr), q))
}

func (l *library) CreateDatabase(engine Handle, database string) (Handle, error) {
	ptr, ok := l.engines.Get(engine)
	if !ok {
		return 0, ErrInvalidHandle
	}
	var pin runtime.Pinner
	defer pin.Unpin()

	db, err := cPasser(database, &pin)
	if err != nil {
		return 0, err
	}
	return l.cursor(C.create_database(C.otterbrix_ptr(ptr), db))
}

func (l *library) CreateCollection(engine Handle, database, collection string) (Handle, error) {
	ptr, ok := l.engines.Get(engine)
	if !ok {
		return 0, ErrInvalidHandle
	}
	var pin runtime.Pinner
	defer pin.Unpin()

	db, err := cPasser(database, &pin)
	if err != nil {
		return 0, err
	}
	coll, err := cPasser(collection, &pin)
	if err != nil {
		return 0, err
	}
	return l.cursor(C.create_collection(C.otterbrix_ptr(ptr), db, coll))
}

func (l *library) document(ptr C.doc_ptr) Handle {
	if ptr == nil {
		return 0
	}
	return l.documents.Insert(unsafe.Pointer(ptr))
}

func (l *library) CursorSize(cursor Handle) int {
	ptr, ok := l.cursors.Get(cursor)
	if !ok {
		return 0
	}
	return int(C.cursor_size(C.cursor_ptr(ptr)))
}

func (l *library) CursorHasNext(cursor Handle) bool {
	ptr, ok := l.cursors.Get(cursor)
	if !ok {
		return false
	}
	return bool(C.cursor_has_next(C.cursor_ptr(ptr)))
}

func (l *library) CursorNext(cursor Handle) Handle {
	ptr, ok := l.cursors.Get(cursor)
	if !ok {
		return 0
	}
	return l.document(C.cursor_next(C.cursor_ptr(ptr)))
}

func (l *library) CursorGet(cursor Handle) Handle {
	ptr, ok := l.cursors.Get(cursor)
	if !ok {
		return 0
	}
	return l.document(C.cursor_get(C.cursor_ptr(ptr)))
}

func (l *library) CursorGetByIndex(cursor Handle, index int) Handle {
	ptr, ok := l.cursors.Get(cursor)
	if !ok || !ValidIndex(index) {
		return 0
	}
	return l.document(C.cursor_get_by_index(C.cursor_ptr(ptr), C.int32_t(index)))
}

func (l *library) CursorIsSuccess(cursor Handle) bool {
	ptr, ok := l.cursors.Get(cursor)
	if !ok {
		return false
	}
	return bool(C.cursor_is_success(C.cursor_ptr(ptr)))
}

func (l *library) CursorIsError(cursor Handle) bool {
	ptr, ok := l.cursors.Get(cursor)
	if !ok {
		return false
	}
	return bool(C.cursor_is_error(C.cursor_ptr(ptr)))
}

func (l *library) CursorError(cursor Handle) (ErrorCode, string) {
	ptr, ok := l.cursors.Get(cursor)
	if !ok {
		return CodeOther, ErrInvalidHandle.Error()
	}
	msg := C.cursor_get_error(C.cursor_ptr(ptr))
	return CodeFromNative(int32(msg._type)), takeString(msg.what)
}

func (l *library) ReleaseCursor(cursor Handle) {
	if ptr, ok := l.cursors.Remove(cursor); ok {
		C.release_cursor(C.cursor_ptr(ptr))
	}
}

func (l *library) DocumentID(doc Handle) string {
	ptr, ok := l.documents.Get(doc)
	if !ok {
		return ""
	}
	return takeString(C.document_id(C.doc_ptr(ptr)))
}

func (l *library) DocumentIsValid(doc Handle) bool {
	ptr, ok := l.documents.Get(doc)
	if !ok {
		return false
	}
	return bool(C.document_is_valid(C.doc_ptr(ptr)))
}

func (l *library) DocumentIsArray(doc Handle) bool {
	ptr, ok := l.documents.Get(doc)
	if !ok {
		return false
	}
	return bool(C.document_is_array(C.doc_ptr(ptr)))
}

func (l *library) DocumentIsDict(doc Handle) bool {
	ptr, ok := l.documents.Get(doc)
	if !ok {
		return false
	}
	return bool(C.document_is_dict(C.doc_ptr(ptr)))
}

func (l *library) DocumentCount(doc Handle) int {
	ptr, ok := l.documents.Get(doc)
	if !ok {
		return 0
	}
	return int(C.document_count(C.doc_ptr(ptr)))
}

// withKey resolves doc and, for key selectors, the pinned key descriptor.
// fn is not called when the handle is unknown or the key cannot be described.
func (l *library) withKey(doc Handle, sel Selector, fn func(ptr C.doc_ptr, key C.string_passer_t, index C.int32_t)) {
	ptr, ok := l.documents.Get(doc)
	if !ok {
		return
	}
	if sel.ByIndex {
		if sel.Index < 0 {
			return
		}
		fn(C.doc_ptr(ptr), C.string_passer_t{}, C.int32_t(sel.Index))
		return
	}

	var pin runtime.Pinner
	defer pin.Unpin()
	key, err := cPasser(sel.Key, &pin)
	if err != nil {
		return
	}
	fn(C.doc_ptr(ptr), key, 0)
}

func (l *library) DocumentIs(doc Handle, kind Kind, sel Selector) bool {
	var out C.bool
	l.withKey(doc, sel, func(p C.doc_ptr, key C.string_passer_t, i C.int32_t) {
		if sel.ByIndex {
			switch kind {
			case KindExist:
				out = C.document_is_exist_by_index(p, i)
			case KindNull:
				out = C.document_is_null_by_index(p, i)
			case KindBool:
				out = C.document_is_bool_by_index(p, i)
			case KindUlong:
				out = C.document_is_ulong_by_index(p, i)
			case KindLong:
				out = C.document_is_long_by_index(p, i)
			case KindDouble:
				out = C.document_is_double_by_index(p, i)
			case KindString:
				out = C.document_is_string_by_index(p, i)
			case KindArray:
				out = C.document_is_array_by_index(p, i)
			case KindDict:
				out = C.document_is_dict_by_index(p, i)
			}
			return
		}

		switch kind {
		case KindExist:
			out = C.document_is_exist_by_key(p, key)
		case KindNull:
			out = C.document_is_null_by_key(p, key)
		case KindBool:
			out = C.document_is_bool_by_key(p, key)
		case KindUlong:
			out = C.document_is_ulong_by_key(p, key)
		case KindLong:
			out = C.document_is_long_by_key(p, key)
		case KindDouble:
			out = C.document_is_double_by_key(p, key)
		case KindString:
			out = C.document_is_string_by_key(p, key)
		case KindArray:
			out = C.document_is_array_by_key(p, key)
		case KindDict:
			out = C.document_is_dict_by_key(p, key)
		}
	})
	return bool(out)
}

func (l *library) DocumentBool(doc Handle, sel Selector) bool {
	var out C.bool
	l.withKey(doc, sel, func(p C.doc_ptr, key C.string_passer_t, i C.int32_t) {
		if sel.ByIndex {
			out = C.document_get_bool_by_index(p, i)
			return
		}
		out = C.document_get_bool_by_key(p, key)
	})
	return bool(out)
}

func (l *library) DocumentUlong(doc Handle, sel Selector) uint64 {
	var out C.uint64_t
	l.withKey(doc, sel, func(p C.doc_ptr, key C.string_passer_t, i C.int32_t) {
		if sel.ByIndex {
			out = C.document_get_ulong_by_index(p, i)
			return
		}
		out = C.document_get_ulong_by_key(p, key)
	})
	return uint64(out)
}

func (l *library) DocumentLong(doc Handle, sel Selector) int64 {
	var out C.int64_t
	l.withKey(doc, sel, func(p C.doc_ptr, key C.string_passer_t, i C.int32_t) {
		if sel.ByIndex {
			out = C.document_get_long_by_index(p, i)
			return
		}
		out = C.document_get_long_by_key(p, key)
	})
	return int64(out)
}

func (l *library) DocumentDouble(doc Handle, sel Selector) float64 {
	var out C.double
	l.withKey(doc, sel, func(p C.doc_ptr, key C.string_passer_t, i C.int32_t) {
		if sel.ByIndex {
			out = C.document_get_double_by_index(p, i)
			return
		}
		out = C.document_get_double_by_key(p, key)
	})
	return float64(out)
}

func (l *library) DocumentString(doc Handle, sel Selector) string {
	var out string
	l.withKey(doc, sel, func(p C.doc_ptr, key C.string_passer_t, i C.int32_t) {
		if sel.ByIndex {
			out = takeString(C.document_get_string_by_index(p, i))
			return
		}
		out = takeString(C.document_get_string_by_key(p, key))
	})
	return out
}

func (l *library) DocumentArray(doc Handle, sel Selector) Handle {
	var out C.doc_ptr
	l.withKey(doc, sel, func(p C.doc_ptr, key C.string_passer_t, i C.int32_t) {
		if sel.ByIndex {
			out = C.document_get_array_by_index(p, i)
			return
		}
		out = C.document_get_array_by_key(p, key)
	})
	return l.document(out)
}

func (l *library) DocumentDict(doc Handle, sel Selector) Handle {
	var out C.doc_ptr
	l.withKey(doc, sel, func(p C.doc_ptr, key C.string_passer_t, i C.int32_t) {
		if sel.ByIndex {
			out = C.document_get_dict_by_index(p, i)
			return
		}
		out = C.document_get_dict_by_key(p, key)
	})
	return l.document(out)
}

func (l *library) ReleaseDocument(doc Handle) {
	if ptr, ok := l.documents.Remove(doc); ok {
		C.release_document(C.doc_ptr(ptr))
	}
}
