package config

import (
	"fmt"
	"time"
)

// ValidatePositiveDuration validates that a duration is positive (greater than zero).
//
// Example:
//
//	if err := ValidatePositiveDuration(window); err != nil {
//	    return fmt.Errorf("invalid window: %w", err)
//	}
func ValidatePositiveDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %v", d)
	}
	return nil
}

// ValidateDurationRange validates that a duration is within [min, max].
//
// Example:
//
//	// Shutdown grace must be between 1 second and 5 minutes
//	if err := ValidateDurationRange(grace, time.Second, 5*time.Minute); err != nil {
//	    return fmt.Errorf("invalid shutdown timeout: %w", err)
//	}
func ValidateDurationRange(d, min, max time.Duration) error {
	if min > max {
		return fmt.Errorf("invalid range: min (%v) cannot be greater than max (%v)", min, max)
	}
	if d < min {
		return fmt.Errorf("duration %v is below minimum %v", d, min)
	}
	if d > max {
		return fmt.Errorf("duration %v exceeds maximum %v", d, max)
	}
	return nil
}

// ValidateWholeSeconds validates that d is positive and has no sub-second part.
// Cache TTLs are persisted and reported in seconds.
func ValidateWholeSeconds(d time.Duration) error {
	if err := ValidatePositiveDuration(d); err != nil {
		return err
	}
	if d%time.Second != 0 {
		return fmt.Errorf("duration must be a whole number of seconds, got %v", d)
	}
	return nil
}
