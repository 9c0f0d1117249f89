// Package dividinghead implements a stepper driven rotary dividing head.
package dividinghead

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/board"
	"go.viam.com/rdk/components/motor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

// Command is the DoCommand key naming the dispatcher operation.
const Command = "command"

// A Motor is a dividing head driven by a step/direction stepper driver.
type Motor struct {
	resource.Named
	resource.AlwaysRebuild
	engine     *Engine
	dispatcher *Dispatcher
	server     *http.Server
	logger     logging.Logger
	motorName  string
}

// newMotor returns a dividing head wired to the pins of its board.
func newMotor(ctx context.Context, deps resource.Dependencies, c resource.Config, logger logging.Logger,
) (motor.Motor, error) {
	conf, err := resource.NativeConfig[*Config](c)
	if err != nil {
		return nil, err
	}
	b, err := board.FromDependencies(deps, conf.BoardName)
	if err != nil {
		return nil, errors.Errorf("%q is not a board", conf.BoardName)
	}
	driver, err := newGPIODriver(b, conf.Pins)
	if err != nil {
		return nil, err
	}
	return makeMotor(ctx, *conf, c.ResourceName(), logger, driver)
}

// makeMotor returns a dividing head. It is separate from newMotor, above, so you can inject a fake
// driver in here during testing.
func makeMotor(ctx context.Context, c Config, name resource.Name, logger logging.Logger, driver Driver,
) (*Motor, error) {
	if c.TicksPerRotation <= 0 {
		return nil, errors.New("ticks_per_rotation isn't set")
	}
	if c.Microsteps == 0 {
		c.Microsteps = defaultMicrosteps
	}
	if c.MaxRPM == 0 {
		logger.CWarnf(ctx, "max_rpm not set, setting to %d rpm", defaultMaxRPM)
		c.MaxRPM = defaultMaxRPM
	}
	if c.DefaultRPM == 0 {
		logger.CWarnf(ctx, "default_rpm not set, setting to %v rpm", math.Min(defaultRPM, c.MaxRPM))
		c.DefaultRPM = math.Min(defaultRPM, c.MaxRPM)
	}
	if c.PulseWidthUS == 0 {
		c.PulseWidthUS = defaultPulseWidthUS
	}

	engine, err := NewEngine(ctx, Settings{
		StepsPerRev: c.TicksPerRotation,
		Microsteps:  c.Microsteps,
		MaxRPM:      c.MaxRPM,
		DefaultRPM:  c.DefaultRPM,
		PulseWidth:  time.Duration(c.PulseWidthUS) * time.Microsecond,
	}, driver, logger)
	if err != nil {
		return nil, err
	}

	m := &Motor{
		Named:      name.AsNamed(),
		engine:     engine,
		dispatcher: NewDispatcher(engine, logger),
		logger:     logger,
		motorName:  name.ShortName(),
	}
	logger.CInfof(ctx, "dividing head ready: %.4f degrees per microstep, max %v rpm",
		engine.Settings().AnglePerMicrostep(), c.MaxRPM)

	if c.HTTPAddress != "" {
		if m.server, err = startHTTPServer(c.HTTPAddress, m.dispatcher, logger); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Position reports the net revolutions travelled from the zero reference.
func (m *Motor) Position(ctx context.Context, extra map[string]interface{}) (float64, error) {
	return m.engine.Revolutions(), nil
}

// Properties returns the status of optional properties on the motor.
func (m *Motor) Properties(ctx context.Context, extra map[string]interface{}) (motor.Properties, error) {
	return motor.Properties{
		PositionReporting: true,
	}, nil
}

// SetPower is not supported: the dividing head only makes relative moves of a known length.
func (m *Motor) SetPower(ctx context.Context, powerPct float64, extra map[string]interface{}) error {
	return errors.Errorf("motor (%s) does not support SetPower, use GoFor or GoTo", m.motorName)
}

// SetRPM is not supported: the dividing head only makes relative moves of a known length.
func (m *Motor) SetRPM(ctx context.Context, rpm float64, extra map[string]interface{}) error {
	return errors.Errorf("motor (%s) does not support SetRPM, use GoFor or GoTo", m.motorName)
}

// GoFor turns the given number of revolutions at the given speed. Both the RPM and the
// revolutions can be negative to move backwards; if both are negative the motor moves forwards.
func (m *Motor) GoFor(ctx context.Context, rpm, revolutions float64, extra map[string]interface{}) error {
	warning, err := motor.CheckSpeed(rpm, m.engine.Settings().MaxRPM)
	if warning != "" {
		m.logger.CWarn(ctx, warning)
	}
	if err != nil {
		return err
	}
	if revolutions == 0 {
		return errors.Errorf("motor (%s) cannot spin indefinitely, revolutions must be non-zero", m.motorName)
	}

	degrees := math.Abs(revolutions) * degreesPerRev
	if math.Signbit(rpm) != math.Signbit(revolutions) {
		degrees = -degrees
	}
	speed := math.Abs(rpm)
	if _, err := m.engine.MoveByAngle(ctx, degrees, &speed); err != nil {
		return errors.Wrapf(err, "error in GoFor from motor (%s)", m.motorName)
	}
	return nil
}

// GoTo moves to the specified position in revolutions from the zero reference. Regardless of the
// sign of the RPM the motor moves towards the target.
func (m *Motor) GoTo(ctx context.Context, rpm, positionRevolutions float64, extra map[string]interface{}) error {
	warning, err := motor.CheckSpeed(rpm, m.engine.Settings().MaxRPM)
	if warning != "" {
		m.logger.CWarn(ctx, warning)
	}
	if err != nil {
		return err
	}
	speed := math.Abs(rpm)
	if _, err := m.engine.MoveToPosition(ctx, positionRevolutions, &speed); err != nil {
		return errors.Wrapf(err, "error in GoTo from motor (%s)", m.motorName)
	}
	return nil
}

// ResetZeroPosition sets the current position, adjusted by offset, as the new zero reference.
func (m *Motor) ResetZeroPosition(ctx context.Context, offset float64, extra map[string]interface{}) error {
	return m.engine.SetZero(offset)
}

// Stop returns once no move is in flight. Moves run to completion and cannot be cut short.
func (m *Motor) Stop(ctx context.Context, extra map[string]interface{}) error {
	m.engine.Wait()
	return nil
}

// IsPowered returns true while the motor is moving, with the speed as a fraction of max_rpm.
func (m *Motor) IsPowered(ctx context.Context, extra map[string]interface{}) (bool, float64, error) {
	if !m.engine.Moving() {
		return false, 0, nil
	}
	return true, m.engine.RPM() / m.engine.Settings().MaxRPM, nil
}

// IsMoving returns true if the motor is currently moving.
func (m *Motor) IsMoving(ctx context.Context) (bool, error) {
	return m.engine.Moving(), nil
}

// DoCommand runs one dispatcher operation, named by the "command" key. Every other key is passed
// as a parameter in string form.
func (m *Motor) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	name, ok := cmd[Command]
	if !ok {
		return nil, errors.Errorf("missing %s value", Command)
	}
	op, ok := name.(string)
	if !ok {
		return nil, errors.Errorf("%s value must be a string", Command)
	}
	params := make(map[string]string, len(cmd))
	for k, v := range cmd {
		if k == Command {
			continue
		}
		params[k] = paramString(v)
	}
	return m.dispatcher.Dispatch(ctx, op, params).Map(), nil
}

// paramString renders a DoCommand value the way it would appear in a query string. JSON numbers
// arrive as float64 and are written without an exponent, so whole numbers stay integers.
func paramString(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Close shuts down the HTTP surface, if any, and leaves the STEP line low.
func (m *Motor) Close(ctx context.Context) error {
	var err error
	if m.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err = m.server.Shutdown(shutdownCtx)
	}
	m.engine.Wait()
	return multierr.Combine(err, m.engine.driver.SetStep(ctx, false))
}
