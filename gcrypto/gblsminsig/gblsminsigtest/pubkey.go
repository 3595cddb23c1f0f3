package gblsminsigtest

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/chaoschain/chaoscore/gcrypto/gblsminsig"
)

var (
	muSigners        sync.Mutex
	generatedSigners []gblsminsig.Signer
)

// DeterministicSigners returns n BLS signers derived from the big-endian index.
// Key generation is slow enough that generated signers are cached for the process.
func DeterministicSigners(n int) []gblsminsig.Signer {
	muSigners.Lock()
	defer muSigners.Unlock()

	if len(generatedSigners) < n {
		start := len(generatedSigners)
		generatedSigners = append(generatedSigners, make([]gblsminsig.Signer, n-start)...)

		var wg sync.WaitGroup
		for i := start; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()

				var ikm [32]byte
				binary.BigEndian.PutUint64(ikm[24:32], uint64(i))

				s, err := gblsminsig.NewSigner(ikm[:])
				if err != nil {
					panic(fmt.Errorf("failed to make signer: %w", err))
				}
				generatedSigners[i] = s
			}(i)
		}
		wg.Wait()
	}

	out := make([]gblsminsig.Signer, n)
	copy(out, generatedSigners)
	return out
}

func DeterministicPubKeys(n int) []gblsminsig.PubKey {
	out := make([]gblsminsig.PubKey, n)
	for i, s := range DeterministicSigners(n) {
		out[i] = s.PubKey().(gblsminsig.PubKey)
	}
	return out
}
