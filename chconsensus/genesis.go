package chconsensus

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Genesis is the chain configuration loaded once at startup.
type Genesis struct {
	ChainID     string
	InitialTime time.Time

	Validators []Validator

	// Initial application key-value state.
	AppState map[string][]byte
}

// Validate reports every problem with g at once.
func (g Genesis) Validate() error {
	var result *multierror.Error

	if g.ChainID == "" {
		result = multierror.Append(result, errors.New("chain ID must not be empty"))
	}
	if g.InitialTime.IsZero() {
		result = multierror.Append(result, errors.New("initial time must be set"))
	}

	if _, err := NewValidatorSet(g.Validators); err != nil {
		result = multierror.Append(result, fmt.Errorf("invalid validators: %w", err))
	}

	for k := range g.AppState {
		if k == "" {
			result = multierror.Append(result, errors.New("app state keys must not be empty"))
			break
		}
	}

	return result.ErrorOrNil()
}

// ValidatorSet returns the initial validator set.
func (g Genesis) ValidatorSet() (ValidatorSet, error) {
	return NewValidatorSet(g.Validators)
}

// Block returns the genesis block for the given genesis state root.
func (g Genesis) Block(stateRoot []byte) Block {
	b := Block{
		Height:    0,
		PrevHash:  ZeroHash,
		Timestamp: g.InitialTime,
		StateRoot: stateRoot,
	}
	b.SetHash()
	return b
}
