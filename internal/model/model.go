// Package model folds router events into the state the front ends render.
//
// Models never own link state. They only mirror what the link publishes and
// republish a full snapshot after every change.
package model

import (
	"fmt"

	"groundlink/internal/router"
)

// Bus is the part of the router the models need.
type Bus interface {
	Publish(category router.Category, payload any)
	Subscribe(category router.Category, h router.Handler, opts ...router.Option)
}

func unexpected(payload any) error {
	return fmt.Errorf("unexpected payload %T", payload)
}
