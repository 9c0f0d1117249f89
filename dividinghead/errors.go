package dividinghead

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrMotorDisabled is returned by every motion call made while the emergency stop is active.
var ErrMotorDisabled = errors.New("motor disabled (emergency stop active)")

// SpeedOutOfRangeError reports a requested speed outside [1, MaxRPM].
type SpeedOutOfRangeError struct {
	RPM    float64
	MaxRPM float64
}

func (e *SpeedOutOfRangeError) Error() string {
	return fmt.Sprintf("rpm must be between %v and %v, got %v", minRPM, e.MaxRPM, e.RPM)
}

// InvalidDivisionError reports a circle division count below two.
type InvalidDivisionError struct {
	Divisions int
}

func (e *InvalidDivisionError) Error() string {
	return fmt.Sprintf("at least 2 divisions are required, got %d", e.Divisions)
}

// InvalidAngleError reports an angle that cannot be rounded to microsteps: NaN, infinite, or so
// large that the resulting position would not fit the microstep counter.
type InvalidAngleError struct {
	Degrees float64
}

func (e *InvalidAngleError) Error() string {
	return fmt.Sprintf("angle must be a finite number of degrees within the position range, got %v", e.Degrees)
}

// ParameterParseError reports a command parameter that is missing or does not parse as its
// declared type.
type ParameterParseError struct {
	Param string
	Value string
	Err   error
}

func (e *ParameterParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid %s %q", e.Param, e.Value)
	}
	return fmt.Sprintf("invalid %s %q: %v", e.Param, e.Value, e.Err)
}

func (e *ParameterParseError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is one of the local, recoverable failures that leave the
// motor state untouched.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	var (
		speedErr    *SpeedOutOfRangeError
		divisionErr *InvalidDivisionError
		angleErr    *InvalidAngleError
		paramErr    *ParameterParseError
	)
	return errors.Is(err, ErrMotorDisabled) ||
		errors.As(err, &speedErr) ||
		errors.As(err, &divisionErr) ||
		errors.As(err, &angleErr) ||
		errors.As(err, &paramErr)
}
