// Package plans provides the subscription plan catalog.
package plans

import (
	"errors"
	"fmt"
	"time"
)

// Plan represents a subscription plan
type Plan struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"price_cents"`
	UsageLimit int64     `json:"calculations_limit"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// IsFree reports whether the plan costs nothing
func (p *Plan) IsFree() bool {
	return p.PriceCents == 0
}

// ErrPlanNotFound is returned when a plan id does not exist
var ErrPlanNotFound = errors.New("plan not found")

// ConfigurationError indicates the plan catalog is in a state the
// service cannot operate with, such as a missing free plan.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("plan catalog misconfigured: %s", e.Message)
}

// IsConfigurationError checks if an error is a ConfigurationError
func IsConfigurationError(err error) bool {
	var confErr *ConfigurationError
	return errors.As(err, &confErr)
}
