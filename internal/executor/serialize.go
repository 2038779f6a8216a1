package executor

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Portable is implemented by executors that can survive a controller
// restart. TypeName selects the decoder on load; the executor's exported
// fields are its reconnection handles.
type Portable interface {
	CommandExecutor
	TypeName() string
}

// envelope is the serialized form of a Portable executor.
type envelope struct {
	Type  string          `json:"type"`
	State json.RawMessage `json:"state"`
}

var (
	typesMu sync.RWMutex
	types   = map[string]func() Portable{}
)

// RegisterType makes an executor type decodable by Unmarshal. Each backend
// registers itself from an init function. Registering the same name twice
// panics, as does the standard library's gob idiom.
func RegisterType(name string, fn func() Portable) {
	typesMu.Lock()
	defer typesMu.Unlock()
	if _, dup := types[name]; dup {
		panic("executor: duplicate type registration: " + name)
	}
	types[name] = fn
}

// Marshal serializes an executor together with its type tag.
func Marshal(e CommandExecutor) ([]byte, error) {
	p, ok := e.(Portable)
	if !ok {
		return nil, fmt.Errorf("executor type %T is not portable", e)
	}
	state, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal executor state: %w", err)
	}
	return json.Marshal(envelope{Type: p.TypeName(), State: state})
}

// Unmarshal reconstructs an executor from its serialized envelope.
func Unmarshal(data []byte) (CommandExecutor, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode executor envelope: %w", err)
	}

	typesMu.RLock()
	fn, ok := types[env.Type]
	typesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown executor type %q", env.Type)
	}

	e := fn()
	if err := json.Unmarshal(env.State, e); err != nil {
		return nil, fmt.Errorf("decode executor state (%s): %w", env.Type, err)
	}
	return e, nil
}
