package usage

import (
	"fmt"

	"github.com/viralgo/credits/internal/entitlement"
)

const maxUserIDLength = 128

// Validate checks a decoded stream event before it is rolled up.
func Validate(event Event) error {
	if event.UserID == "" {
		return fmt.Errorf("uid is required")
	}
	if len(event.UserID) > maxUserIDLength {
		return fmt.Errorf("uid too long")
	}
	if _, err := entitlement.ParseAction(event.Action); err != nil {
		return err
	}
	if event.Cost <= 0 {
		return fmt.Errorf("cost must be positive")
	}
	if event.Remaining < 0 {
		return fmt.Errorf("remaining must not be negative")
	}
	if event.At <= 0 {
		return fmt.Errorf("t must be set")
	}
	return nil
}
