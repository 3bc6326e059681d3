//go:build !unix

package channel

import (
	"context"
	"fmt"
)

func dialFramed(_ context.Context, path string, _ Options) (Channel, error) {
	return nil, fmt.Errorf("%w: framed transport requires a unix platform (%s)", ErrUnsupportedAddr, path)
}
