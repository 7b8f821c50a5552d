package audit

import (
	"fmt"
	"sync"
)

var (
	globalWriter Writer = NopWriter{}
	globalMu     sync.RWMutex

	enabled bool
)

// Init installs w as the process-wide audit writer. A nil writer disables
// audit logging.
func Init(w Writer) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if w == nil {
		globalWriter = NopWriter{}
		enabled = false
		return nil
	}

	globalWriter = w
	enabled = true
	return nil
}

// InitFile installs a FileWriter on path. An empty path disables audit
// logging.
func InitFile(path string) error {
	if path == "" {
		return Init(nil)
	}

	w, err := NewFileWriter(path)
	if err != nil {
		return err
	}

	return Init(w)
}

// Close closes the global audit writer and disables audit logging.
func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalWriter != nil {
		err := globalWriter.Close()
		globalWriter = NopWriter{}
		enabled = false
		return err
	}
	return nil
}

// Enabled returns whether audit logging is active.
func Enabled() bool {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return enabled
}

// Log writes an audit event to the global writer.
func Log(event *Event) error {
	globalMu.RLock()
	w := globalWriter
	globalMu.RUnlock()

	return w.Write(event)
}

// MustLog writes an audit event and returns an error suitable for failing
// the parent operation.
//
//	if err := audit.MustLog(event); err != nil {
//	    return CryptoKey{}, err
//	}
func MustLog(event *Event) error {
	if err := Log(event); err != nil {
		return fmt.Errorf("audit log failed: %w", err)
	}
	return nil
}

func resultOf(success bool) Result {
	if success {
		return ResultSuccess
	}
	return ResultFailure
}

// KeyRef identifies the key an event is about.
type KeyRef struct {
	ID    string
	Alias string
	Kind  string
}

func (k KeyRef) object() Object {
	return Object{Type: "key", ID: k.ID, Alias: k.Alias, Kind: k.Kind}
}

// LogKeyCreated logs a key materialized by generate, import, unwrap or
// derive. eventType must be one of the creation events.
func LogKeyCreated(eventType EventType, key KeyRef, algorithm string, success bool) error {
	switch eventType {
	case EventKeyGenerated, EventKeyImported, EventKeyUnwrapped, EventKeyDerived:
	default:
		return fmt.Errorf("audit: %s is not a key creation event", eventType)
	}

	event := NewEvent(eventType, resultOf(success)).
		WithObject(key.object()).
		WithContext(Context{Algorithm: algorithm})

	return MustLog(event)
}

// LogKeyDerived logs a derivation, recording the base key.
func LogKeyDerived(key KeyRef, baseID, algorithm string, success bool) error {
	event := NewEvent(EventKeyDerived, resultOf(success)).
		WithObject(key.object()).
		WithContext(Context{Algorithm: algorithm, Base: baseID})

	return MustLog(event)
}

// LogKeyExported logs key material leaving the engine in clear.
func LogKeyExported(key KeyRef, format string, success bool) error {
	event := NewEvent(EventKeyExported, resultOf(success)).
		WithObject(key.object()).
		WithContext(Context{Format: format})

	return MustLog(event)
}

// LogKeyWrapped logs key material leaving the engine under a wrapping key.
func LogKeyWrapped(key KeyRef, wrappingID, format, algorithm string, success bool) error {
	event := NewEvent(EventKeyWrapped, resultOf(success)).
		WithObject(key.object()).
		WithContext(Context{Format: format, Wrapping: wrappingID, Algorithm: algorithm})

	return MustLog(event)
}

// LogKeySaved logs an alias bound to a key.
func LogKeySaved(key KeyRef, success bool) error {
	return MustLog(NewEvent(EventKeySaved, resultOf(success)).WithObject(key.object()))
}

// LogKeyLoaded logs a persisted alias resolved to a key.
func LogKeyLoaded(key KeyRef, success bool) error {
	return MustLog(NewEvent(EventKeyLoaded, resultOf(success)).WithObject(key.object()))
}

// LogKeyDeleted logs a persisted key destroyed on the host.
func LogKeyDeleted(key KeyRef, success bool) error {
	return MustLog(NewEvent(EventKeyDeleted, resultOf(success)).WithObject(key.object()))
}

// LogEngineServe logs the start of the host RPC server.
func LogEngineServe(engine, address string) error {
	event := NewEvent(EventEngineServe, ResultSuccess).
		WithObject(Object{Type: "engine"}).
		WithContext(Context{Engine: engine, Address: address})

	return MustLog(event)
}
