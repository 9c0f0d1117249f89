package dividinghead

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

const (
	minRPM                = 1.0
	microsecondsPerMinute = 60_000_000
	degreesPerRev         = 360.0

	// Bound on any microstep count or position, leaving headroom so that a position plus a move
	// never overflows int64.
	maxMicrosteps = math.MaxInt64 / 2
)

// Settings is the immutable motor configuration of an Engine.
type Settings struct {
	StepsPerRev int           // mechanical full steps per revolution
	Microsteps  int           // microstep multiplier set on the driver
	MaxRPM      float64       // upper speed bound
	DefaultRPM  float64       // speed in effect until the first SetSpeed
	PulseWidth  time.Duration // STEP high time required by the driver
}

func (s Settings) microstepsPerRev() int64 {
	return int64(s.StepsPerRev) * int64(s.Microsteps)
}

// AnglePerMicrostep is the finest angle the engine can realize, in degrees.
func (s Settings) AnglePerMicrostep() float64 {
	return degreesPerRev / float64(s.microstepsPerRev())
}

func (s Settings) validate() error {
	if s.StepsPerRev <= 0 {
		return errors.Errorf("steps per revolution must be positive, got %d", s.StepsPerRev)
	}
	if s.Microsteps <= 0 {
		return errors.Errorf("microsteps must be positive, got %d", s.Microsteps)
	}
	if s.MaxRPM < minRPM {
		return errors.Errorf("max rpm must be at least %v, got %v", minRPM, s.MaxRPM)
	}
	if s.DefaultRPM < minRPM || s.DefaultRPM > s.MaxRPM {
		return errors.Errorf("default rpm must be between %v and %v, got %v", minRPM, s.MaxRPM, s.DefaultRPM)
	}
	if s.PulseWidth <= 0 {
		return errors.Errorf("pulse width must be positive, got %v", s.PulseWidth)
	}
	if interval := stepInterval(s.microstepsPerRev(), s.MaxRPM); interval <= s.PulseWidth {
		return errors.Errorf("max rpm %v gives a %v step interval, which does not exceed the %v pulse width",
			s.MaxRPM, interval, s.PulseWidth)
	}
	return nil
}

// Status is a read-only snapshot of the engine.
type Status struct {
	CurrentAngle float64 `json:"current_angle"`
	RPM          float64 `json:"rpm"`
	MaxRPM       float64 `json:"max_rpm"`
	Enabled      bool    `json:"enabled"`
	Resolution   float64 `json:"resolution"`
	StepsPerRev  int     `json:"steps_per_rev"`
	Microsteps   int     `json:"microsteps"`
}

// Engine turns angle and division requests into microstep pulses and keeps track of the shaft
// position. Every operation holds the engine lock for its whole duration, so a move in flight
// blocks status queries and emergency stops until its last pulse has been emitted.
type Engine struct {
	settings         Settings
	microstepsPerRev int64
	driver           Driver
	wait             func(time.Duration)
	logger           logging.Logger

	mu       sync.Mutex
	position int64 // net microsteps since start, not reduced
	rpm      float64
	enabled  bool

	// Rounding residual, in microsteps, of the DivideCircle sequence for divisionCount. Cleared by
	// any other motion or when the count changes.
	divisionCount int
	divisionCarry float64

	moving atomic.Bool
}

// NewEngine validates the settings, powers the driver and returns an enabled engine at position
// zero running at the default speed.
func NewEngine(ctx context.Context, settings Settings, driver Driver, logger logging.Logger) (*Engine, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		settings:         settings,
		microstepsPerRev: settings.microstepsPerRev(),
		driver:           driver,
		wait:             busyWait,
		logger:           logger,
		rpm:              settings.DefaultRPM,
		enabled:          true,
	}
	if err := driver.SetEnable(ctx, true); err != nil {
		return nil, errors.Wrap(err, "enabling driver")
	}
	return e, nil
}

// Settings returns the configuration the engine was built with.
func (e *Engine) Settings() Settings {
	return e.settings
}

// Motion describes a completed move, as seen from inside the same locked call that made it.
type Motion struct {
	Degrees      float64 // angle actually realized
	RPM          float64 // speed the move ran at
	CurrentAngle float64 // shaft angle in [0, 360) after the move
}

// MoveByAngle moves the shaft by degrees (negative is backwards) and returns the angle actually
// realized, which is degrees rounded to the nearest whole microstep, halves away from zero. If rpm
// is non-nil it is validated and becomes the current speed before the move.
func (e *Engine) MoveByAngle(ctx context.Context, degrees float64, rpm *float64) (float64, error) {
	m, err := e.Move(ctx, degrees, rpm)
	return m.Degrees, err
}

// Move is MoveByAngle reporting the resulting speed and angle along with the realized angle.
func (e *Engine) Move(ctx context.Context, degrees float64, rpm *float64) (Motion, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	actual, err := e.moveByAngle(ctx, degrees, rpm)
	if err != nil {
		return Motion{}, err
	}
	return e.motion(actual), nil
}

func (e *Engine) motion(actual float64) Motion {
	return Motion{Degrees: actual, RPM: e.rpm, CurrentAngle: e.currentAngle()}
}

func (e *Engine) moveByAngle(ctx context.Context, degrees float64, rpm *float64) (float64, error) {
	if !e.enabled {
		return 0, ErrMotorDisabled
	}
	microsteps, err := e.angleToMicrosteps(degrees)
	if err != nil {
		return 0, err
	}
	if err := e.move(ctx, microsteps, rpm); err != nil {
		return 0, err
	}
	e.divisionCount, e.divisionCarry = 0, 0
	return e.microstepsToAngle(microsteps), nil
}

// move adopts rpm, emits the pulses for a signed microstep count and only then credits the
// position. Callers check that the engine is enabled.
func (e *Engine) move(ctx context.Context, microsteps int64, rpm *float64) error {
	if rpm != nil {
		if err := e.setSpeed(*rpm); err != nil {
			return err
		}
	}
	count := microsteps
	if count < 0 {
		count = -count
	}
	if err := e.emitPulses(ctx, count, microsteps > 0); err != nil {
		return err
	}
	e.position += microsteps
	return nil
}

// angleToMicrosteps rounds degrees to whole microsteps. Angles that are not finite, or that would
// carry the position outside ±maxMicrosteps, are rejected before any conversion to int64.
func (e *Engine) angleToMicrosteps(degrees float64) (int64, error) {
	exact := math.Round(degrees * float64(e.microstepsPerRev) / degreesPerRev)
	if !inMicrostepRange(exact) || !inMicrostepRange(float64(e.position)+exact) {
		return 0, &InvalidAngleError{Degrees: degrees}
	}
	return int64(exact), nil
}

// inMicrostepRange is false for NaN and both infinities too.
func inMicrostepRange(microsteps float64) bool {
	return math.Abs(microsteps) <= maxMicrosteps
}

func (e *Engine) microstepsToAngle(microsteps int64) float64 {
	return float64(microsteps) * degreesPerRev / float64(e.microstepsPerRev)
}

// DivideCircle advances the shaft by one of divisions equal parts of a revolution and returns
// the angle realized.
//
// Successive calls with the same count carry the rounding residual forward, so that divisions
// calls in a row always add up to exactly one revolution.
func (e *Engine) DivideCircle(ctx context.Context, divisions int, rpm *float64) (float64, error) {
	m, err := e.Divide(ctx, divisions, rpm)
	return m.Degrees, err
}

// Divide is DivideCircle reporting the resulting speed and angle along with the realized angle.
func (e *Engine) Divide(ctx context.Context, divisions int, rpm *float64) (Motion, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	actual, err := e.divideCircle(ctx, divisions, rpm)
	if err != nil {
		return Motion{}, err
	}
	return e.motion(actual), nil
}

func (e *Engine) divideCircle(ctx context.Context, divisions int, rpm *float64) (float64, error) {
	if !e.enabled {
		return 0, ErrMotorDisabled
	}
	if divisions < 2 {
		return 0, &InvalidDivisionError{Divisions: divisions}
	}
	carry := e.divisionCarry
	if divisions != e.divisionCount {
		carry = 0
	}
	exact := float64(e.microstepsPerRev)/float64(divisions) + carry
	if !inMicrostepRange(float64(e.position) + math.Round(exact)) {
		return 0, &InvalidAngleError{Degrees: exact * degreesPerRev / float64(e.microstepsPerRev)}
	}
	microsteps := int64(math.Round(exact))
	if err := e.move(ctx, microsteps, rpm); err != nil {
		return 0, err
	}
	e.divisionCount, e.divisionCarry = divisions, exact-float64(microsteps)
	return e.microstepsToAngle(microsteps), nil
}

// ResetToZero moves back to the zero reference by the reverse of the current angle.
func (e *Engine) ResetToZero(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.moveByAngle(ctx, -e.currentAngle(), nil)
	return err
}

// MoveToPosition moves to an absolute position, measured in revolutions from the zero reference
// without reduction to one turn, and returns the angle travelled.
func (e *Engine) MoveToPosition(ctx context.Context, revolutions float64, rpm *float64) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delta := revolutions*degreesPerRev - e.microstepsToAngle(e.position)
	return e.moveByAngle(ctx, delta, rpm)
}

// CurrentAngle returns the shaft angle in [0, 360).
func (e *Engine) CurrentAngle() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentAngle()
}

func (e *Engine) currentAngle() float64 {
	reduced := e.position % e.microstepsPerRev
	if reduced < 0 {
		reduced += e.microstepsPerRev
	}
	return e.microstepsToAngle(reduced)
}

// Revolutions returns the net distance travelled from the zero reference.
func (e *Engine) Revolutions() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return float64(e.position) / float64(e.microstepsPerRev)
}

// SetZero declares the current shaft position to be offset revolutions from a new zero
// reference. Nothing moves.
func (e *Engine) SetZero(offset float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	microsteps := math.Round(offset * float64(e.microstepsPerRev))
	if !inMicrostepRange(microsteps) {
		return &InvalidAngleError{Degrees: offset * degreesPerRev}
	}
	e.position = -int64(microsteps)
	e.divisionCount, e.divisionCarry = 0, 0
	return nil
}

// SetSpeed replaces the current speed. Out of range speeds are rejected, never clamped.
func (e *Engine) SetSpeed(rpm float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setSpeed(rpm)
}

func (e *Engine) setSpeed(rpm float64) error {
	// written so that NaN fails too
	if !(rpm >= minRPM && rpm <= e.settings.MaxRPM) {
		return &SpeedOutOfRangeError{RPM: rpm, MaxRPM: e.settings.MaxRPM}
	}
	if rpm != e.rpm {
		e.logger.Infof("speed set to %v rpm", rpm)
	}
	e.rpm = rpm
	return nil
}

// RPM returns the current speed.
func (e *Engine) RPM() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rpm
}

// EmergencyStop disables the driver output stage and refuses further motion until Resume.
// Calling it while already stopped is a no-op.
func (e *Engine) EmergencyStop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.enabled {
		return nil
	}
	if err := e.driver.SetEnable(ctx, false); err != nil {
		return errors.Wrap(err, "disabling driver")
	}
	e.enabled = false
	e.logger.CWarn(ctx, "emergency stop activated")
	return nil
}

// Resume re-enables the driver after an emergency stop. Calling it while running is a no-op.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enabled {
		return nil
	}
	if err := e.driver.SetEnable(ctx, true); err != nil {
		return errors.Wrap(err, "enabling driver")
	}
	e.enabled = true
	e.logger.CInfo(ctx, "motor re-enabled")
	return nil
}

// Moving reports whether pulses are being emitted. Unlike the other accessors it does not wait
// for the move in flight.
func (e *Engine) Moving() bool {
	return e.moving.Load()
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		CurrentAngle: e.currentAngle(),
		RPM:          e.rpm,
		MaxRPM:       e.settings.MaxRPM,
		Enabled:      e.enabled,
		Resolution:   e.settings.AnglePerMicrostep(),
		StepsPerRev:  e.settings.StepsPerRev,
		Microsteps:   e.settings.Microsteps,
	}
}

// Wait blocks until no move is in flight.
func (e *Engine) Wait() {
	e.mu.Lock()
	defer e.mu.Unlock()
}
