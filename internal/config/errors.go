package config

import (
	"errors"
	"fmt"
)

// ErrMissingSetting marks a required setting that is absent.
var ErrMissingSetting = errors.New("missing required setting")

func missing(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingSetting, name)
}
