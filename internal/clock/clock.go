package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts time so schedulers and tests can control it.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// NewSystemClock returns the wall clock.
func NewSystemClock() Clock { return systemClock{} }

var Module = fx.Module("clock",
	fx.Provide(NewSystemClock),
)
