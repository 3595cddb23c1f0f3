package gcrypto

import (
	"bytes"
	"fmt"
	"reflect"
)

// prefixLen is the fixed width of the type name prefix on marshaled keys.
// Shorter names are right-padded with zero bytes.
const prefixLen = 8

// Registry maps public key type names to decoders,
// so that keys of any registered type can travel over the wire
// as a single byte slice.
//
// The zero value is ready to use.
// A Registry is not safe for concurrent registration,
// but concurrent Marshal and Unmarshal calls are fine once registration is complete.
type Registry struct {
	byPrefix map[string]func([]byte) (PubKey, error)
	byType   map[reflect.Type]string
}

// Register associates name with the concrete type of inst and the decode function.
// Register panics if name is empty, longer than 8 bytes, or already registered.
func (r *Registry) Register(name string, inst PubKey, decode func([]byte) (PubKey, error)) {
	if name == "" || len(name) > prefixLen {
		panic(fmt.Errorf("key type name must be 1-%d bytes, got %q", prefixLen, name))
	}

	if r.byPrefix == nil {
		r.byPrefix = make(map[string]func([]byte) (PubKey, error))
		r.byType = make(map[reflect.Type]string)
	}

	if _, ok := r.byPrefix[name]; ok {
		panic(fmt.Errorf("key type %q already registered", name))
	}

	r.byPrefix[name] = decode
	r.byType[reflect.TypeOf(inst)] = name
}

// Marshal returns the type-prefixed bytes for k.
// Marshal panics if k's type was not registered.
func (r *Registry) Marshal(k PubKey) []byte {
	name, ok := r.byType[reflect.TypeOf(k)]
	if !ok {
		panic(fmt.Errorf("no registered public key type for %T", k))
	}

	kb := k.PubKeyBytes()
	out := make([]byte, prefixLen, prefixLen+len(kb))
	copy(out, name)
	return append(out, kb...)
}

// Unmarshal decodes bytes produced by [Registry.Marshal].
func (r *Registry) Unmarshal(b []byte) (PubKey, error) {
	if len(b) < prefixLen {
		return nil, fmt.Errorf("marshaled key too short: %d bytes", len(b))
	}

	name := string(bytes.TrimRight(b[:prefixLen], "\x00"))
	return r.Decode(name, b[prefixLen:])
}

// Decode decodes the raw key bytes b as the key type registered under typeName.
func (r *Registry) Decode(typeName string, b []byte) (PubKey, error) {
	decode, ok := r.byPrefix[typeName]
	if !ok {
		return nil, fmt.Errorf("no registered public key type for prefix %q", typeName)
	}

	return decode(b)
}
