package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/duckstax/otterbrix-go/bridge"
)

const defaultQueueSize = 256

// Observer receives engine activity. api.Metrics implements it.
type Observer interface {
	ObserveCall(op string, err error, d time.Duration)
	ObserveHandles(cursors, documents int)
	ObserveLeak(kind string)
}

type nopObserver struct{}

func (nopObserver) ObserveCall(string, error, time.Duration) {}
func (nopObserver) ObserveHandles(int, int)                   {}
func (nopObserver) ObserveLeak(string)                        {}

type options struct {
	native     bridge.Native
	logger     *zap.Logger
	observer   Observer
	database   string
	collection string
	queueSize  int
}

// Option configures Open.
type Option func(*options)

// WithNative uses n instead of loading libotterbrix.
func WithNative(n bridge.Native) Option {
	return func(o *options) { o.native = n }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver sets the activity observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithDefaultCollection names the database and collection the engine
// creates on startup.
func WithDefaultCollection(database, collection string) Option {
	return func(o *options) {
		o.database = database
		o.collection = collection
	}
}

// WithQueueSize bounds the number of calls waiting for the executor. Values
// below one keep the default.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}
