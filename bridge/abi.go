package bridge

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"unsafe"
)

// ErrStringTooLarge is returned when a string cannot be described by a
// StringPasser (its size field is 32 bits wide).
var ErrStringTooLarge = errors.New("string exceeds native size limit")

// StringPasser mirrors string_passer_t: a pointer and a byte count. The data
// is not NUL-terminated; the native side must honor Size.
type StringPasser struct {
	Data *byte
	Size uint32
}

// emptyData backs empty descriptors so that Data is never nil on the native
// side.
var emptyData byte

// NewStringPasser describes s without copying it. The backing bytes are
// pinned with pin so the descriptor may be handed to C; the caller unpins
// after the native call returns. The empty string points at a static zero
// byte with Size 0.
func NewStringPasser(s string, pin *runtime.Pinner) (StringPasser, error) {
	if uint64(len(s)) > math.MaxUint32 {
		return StringPasser{}, fmt.Errorf("%w: %d bytes", ErrStringTooLarge, len(s))
	}
	if len(s) == 0 {
		return StringPasser{Data: &emptyData}, nil
	}

	data := unsafe.StringData(s)
	if pin != nil {
		pin.Pin(data)
	}
	return StringPasser{Data: data, Size: uint32(len(s))}, nil // #nosec G115 - bounds checked above
}

// String copies the described bytes into a Go string.
func (sp StringPasser) String() string {
	if sp.Data == nil || sp.Size == 0 {
		return ""
	}
	return string(unsafe.Slice(sp.Data, sp.Size))
}

// TransferConfig mirrors config_t and is passed by value to otterbrix_create.
type TransferConfig struct {
	Level      int32
	LogPath    StringPasser
	WALPath    StringPasser
	DiskPath   StringPasser
	WALOn      bool
	DiskOn     bool
	SyncToDisk bool
}

// Flatten converts cfg into its transfer record. String fields reference the
// memory of cfg and are pinned with pin.
func Flatten(cfg Config, pin *runtime.Pinner) (TransferConfig, error) {
	logPath, err := NewStringPasser(cfg.LogPath, pin)
	if err != nil {
		return TransferConfig{}, fmt.Errorf("log path: %w", err)
	}
	walPath, err := NewStringPasser(cfg.WALPath, pin)
	if err != nil {
		return TransferConfig{}, fmt.Errorf("wal path: %w", err)
	}
	diskPath, err := NewStringPasser(cfg.DiskPath, pin)
	if err != nil {
		return TransferConfig{}, fmt.Errorf("disk path: %w", err)
	}

	return TransferConfig{
		Level:      int32(cfg.Level),
		LogPath:    logPath,
		WALPath:    walPath,
		DiskPath:   diskPath,
		WALOn:      cfg.WALOn,
		DiskOn:     cfg.DiskOn,
		SyncToDisk: cfg.SyncToDisk,
	}, nil
}

// Config reads a transfer record back into a Config, copying every string.
func (tc TransferConfig) Config() Config {
	return Config{
		Level:      LogLevel(tc.Level),
		LogPath:    tc.LogPath.String(),
		WALPath:    tc.WALPath.String(),
		DiskPath:   tc.DiskPath.String(),
		WALOn:      tc.WALOn,
		DiskOn:     tc.DiskOn,
		SyncToDisk: tc.SyncToDisk,
	}
}
