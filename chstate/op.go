package chstate

import (
	"fmt"

	"github.com/chaoschain/chaoscore/chcodec/chcbor"
	"github.com/chaoschain/chaoscore/gcrypto"
)

// OpKind is the operation an intent payload performs.
type OpKind uint8

const (
	_ OpKind = iota

	OpSet
	OpDelete

	// Governance operations change the validator set
	// voting on the height after the one that commits them.
	// Only current validators may submit them.
	OpAddValidator
	OpRemoveValidator
	OpSetPower
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpDelete:
		return "delete"
	case OpAddValidator:
		return "add_validator"
	case OpRemoveValidator:
		return "remove_validator"
	case OpSetPower:
		return "set_power"
	default:
		return fmt.Sprintf("OpKind(%d)", uint8(k))
	}
}

// Op is the decoded form of an intent payload.
type Op struct {
	Kind OpKind `cbor:"k"`

	Key   string `cbor:"key,omitempty"`
	Value []byte `cbor:"v,omitempty"`

	// Registry-marshaled validator key, for governance operations.
	PubKey []byte `cbor:"pk,omitempty"`
	Power  uint64 `cbor:"p,omitempty"`
}

// EncodeOp returns the intent payload for op.
func EncodeOp(op Op) []byte {
	b, err := chcbor.Marshal(op)
	if err != nil {
		// Op has only plain fields; encoding cannot fail.
		panic(fmt.Errorf("failed to encode op: %w", err))
	}
	return b
}

// SetOp returns the payload setting key to value.
func SetOp(key string, value []byte) []byte {
	return EncodeOp(Op{Kind: OpSet, Key: key, Value: value})
}

// DeleteOp returns the payload deleting key.
func DeleteOp(key string) []byte {
	return EncodeOp(Op{Kind: OpDelete, Key: key})
}

// AddValidatorOp returns the payload adding pk with the given power.
func AddValidatorOp(reg *gcrypto.Registry, pk gcrypto.PubKey, power uint64) []byte {
	return EncodeOp(Op{Kind: OpAddValidator, PubKey: reg.Marshal(pk), Power: power})
}

// RemoveValidatorOp returns the payload removing pk.
func RemoveValidatorOp(reg *gcrypto.Registry, pk gcrypto.PubKey) []byte {
	return EncodeOp(Op{Kind: OpRemoveValidator, PubKey: reg.Marshal(pk)})
}

// SetPowerOp returns the payload changing pk's power.
func SetPowerOp(reg *gcrypto.Registry, pk gcrypto.PubKey, power uint64) []byte {
	return EncodeOp(Op{Kind: OpSetPower, PubKey: reg.Marshal(pk), Power: power})
}

func decodeOp(payload []byte) (Op, error) {
	var op Op
	if err := chcbor.Unmarshal(payload, &op); err != nil {
		return Op{}, err
	}

	switch op.Kind {
	case OpSet, OpDelete:
		if op.Key == "" {
			return Op{}, fmt.Errorf("%s requires a key", op.Kind)
		}
	case OpAddValidator, OpSetPower:
		if len(op.PubKey) == 0 || op.Power == 0 {
			return Op{}, fmt.Errorf("%s requires a key and positive power", op.Kind)
		}
	case OpRemoveValidator:
		if len(op.PubKey) == 0 {
			return Op{}, fmt.Errorf("%s requires a key", op.Kind)
		}
	default:
		return Op{}, fmt.Errorf("unknown op kind %d", op.Kind)
	}

	return op, nil
}
