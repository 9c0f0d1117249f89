package dividinghead

import (
	"github.com/pkg/errors"
	"go.viam.com/rdk/components/motor"
	"go.viam.com/rdk/resource"
)

// Model for the stepper driven dividing head.
var Model = resource.NewModel("viam", "dividing-head", "stepper-indexer")

// Defaults applied by the constructor for attributes left unset.
const (
	defaultMicrosteps   = 16
	defaultMaxRPM       = 300
	defaultRPM          = 60
	defaultPulseWidthUS = 2
)

// PinConfig defines where the stepper driver is wired.
type PinConfig struct {
	Step         string `json:"step"`
	Direction    string `json:"dir"`
	EnablePinLow string `json:"en_low,omitempty"`
}

// Config describes the configuration of a dividing head.
type Config struct {
	Pins             PinConfig `json:"pins"`
	BoardName        string    `json:"board"`
	TicksPerRotation int       `json:"ticks_per_rotation"`
	Microsteps       int       `json:"microsteps,omitempty"`
	MaxRPM           float64   `json:"max_rpm,omitempty"`
	DefaultRPM       float64   `json:"default_rpm,omitempty"`
	PulseWidthUS     int       `json:"pulse_width_us,omitempty"`
	HTTPAddress      string    `json:"http_address,omitempty"` // serves the /api control surface when set
}

// Validate ensures all parts of the config are valid.
func (config *Config) Validate(path string) ([]string, []string, error) {
	if config.BoardName == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "board")
	}
	if config.Pins.Step == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "pins.step")
	}
	if config.Pins.Direction == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "pins.dir")
	}
	if config.TicksPerRotation <= 0 {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "ticks_per_rotation")
	}
	if config.Microsteps < 0 {
		return nil, nil, errors.Errorf("microsteps must be positive, got %d", config.Microsteps)
	}
	if config.MaxRPM < 0 || (config.MaxRPM > 0 && config.MaxRPM < minRPM) {
		return nil, nil, errors.Errorf("max_rpm must be at least %v, got %v", minRPM, config.MaxRPM)
	}
	if config.DefaultRPM < 0 {
		return nil, nil, errors.Errorf("default_rpm must be positive, got %v", config.DefaultRPM)
	}
	if config.PulseWidthUS < 0 {
		return nil, nil, errors.Errorf("pulse_width_us must be positive, got %d", config.PulseWidthUS)
	}
	return []string{config.BoardName}, nil, nil
}

func init() {
	resource.RegisterComponent(motor.API, Model, resource.Registration[motor.Motor, *Config]{
		Constructor: newMotor,
	})
}
