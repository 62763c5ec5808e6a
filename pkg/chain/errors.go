package chain

import (
	"errors"
	"fmt"
)

var ErrChainMisuse = errors.New("chain misuse")

// MisuseError reports a step that broke the next() contract.
type MisuseError struct {
	Step   string
	Index  int
	Reason string
}

func (e *MisuseError) Error() string {
	return fmt.Sprintf("%s: step %q (#%d): %s", ErrChainMisuse, e.Step, e.Index, e.Reason)
}

func (e *MisuseError) Is(target error) bool {
	return target == ErrChainMisuse
}
