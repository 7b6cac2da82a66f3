// Package bridge provides the native boundary to the otterbrix engine.
//
// This package contains:
//   - Fixed-layout transfer records shared with the C ABI (abi.go)
//   - Engine configuration and the native error taxonomy (config.go, errors.go)
//   - The Native interface and the handle arena (native.go, handle.go)
//   - CGO bindings to libotterbrix (libotterbrix.go)
//
// The CGO bindings are only compiled with the otterbrix build tag, and the
// shared library must be built before using them:
//
//	cmake --build build --target otterbrix
//	cp build/libotterbrix.so lib/
//	go build -tags otterbrix ./...
//
// The declarations bound here live in include/otterbrix.h.
package bridge
