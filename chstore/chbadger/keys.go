package chbadger

import (
	"encoding/binary"

	"github.com/chaoschain/chaoscore/chconsensus"
)

// Key prefixes. Heights are big-endian so keys sort by height.
const (
	prefixBlock  byte = 'b'
	prefixIntent byte = 'i'
	prefixTip    byte = 't'
)

func blockKey(height uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte{prefixBlock}, height)
}

func intentKey(id chconsensus.IntentID) []byte {
	return append([]byte{prefixIntent}, id[:]...)
}

func tipKey() []byte {
	return []byte{prefixTip}
}
