package dividinghead

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/board"
)

// Driver is the hardware seen by the engine: a step/direction stepper driver with an enable line.
type Driver interface {
	// SetDirection selects the rotation direction for the following step pulses.
	SetDirection(ctx context.Context, forward bool) error
	// SetStep drives the STEP line.
	SetStep(ctx context.Context, high bool) error
	// SetEnable powers the driver output stage on or off.
	SetEnable(ctx context.Context, on bool) error
}

// gpioDriver drives a step/direction stepper driver (A4988, DRV8825, TB6600...) through board pins.
type gpioDriver struct {
	step     board.GPIOPin
	dir      board.GPIOPin
	enLowPin board.GPIOPin // optional
}

func newGPIODriver(b board.Board, pins PinConfig) (*gpioDriver, error) {
	d := &gpioDriver{}
	var err error
	if d.step, err = b.GPIOPinByName(pins.Step); err != nil {
		return nil, errors.Wrapf(err, "step pin %q", pins.Step)
	}
	if d.dir, err = b.GPIOPinByName(pins.Direction); err != nil {
		return nil, errors.Wrapf(err, "dir pin %q", pins.Direction)
	}
	if pins.EnablePinLow != "" {
		if d.enLowPin, err = b.GPIOPinByName(pins.EnablePinLow); err != nil {
			return nil, errors.Wrapf(err, "en_low pin %q", pins.EnablePinLow)
		}
	}
	return d, nil
}

func (d *gpioDriver) SetDirection(ctx context.Context, forward bool) error {
	return d.dir.Set(ctx, forward, nil)
}

func (d *gpioDriver) SetStep(ctx context.Context, high bool) error {
	return d.step.Set(ctx, high, nil)
}

// SetEnable pulls the enable pin low to power the driver. Without an enable pin the driver is
// always powered and only the engine's logical state changes.
func (d *gpioDriver) SetEnable(ctx context.Context, on bool) error {
	if d.enLowPin == nil {
		return nil
	}
	return d.enLowPin.Set(ctx, !on, nil)
}

// busyWait spins on the monotonic clock. Sleeping would hand the timing over to the scheduler,
// which cannot hold microsecond pulse widths.
func busyWait(d time.Duration) {
	for start := time.Now(); time.Since(start) < d; {
	}
}

// stepInterval is the time between the starts of two successive step pulses at rpm, truncated to
// whole microseconds.
func stepInterval(microstepsPerRev int64, rpm float64) time.Duration {
	us := int64(microsecondsPerMinute / (float64(microstepsPerRev) * rpm))
	return time.Duration(us) * time.Microsecond
}

// emitPulses sets the direction once and then issues count step pulses at the current speed.
// It runs to completion; nothing can interrupt it between pulses.
func (e *Engine) emitPulses(ctx context.Context, count int64, forward bool) error {
	if count == 0 {
		return nil
	}
	interval := stepInterval(e.microstepsPerRev, e.rpm)
	low := interval - e.settings.PulseWidth

	e.logger.Debugf("emitting %d microsteps (forward=%v, interval=%v)", count, forward, interval)

	e.moving.Store(true)
	defer e.moving.Store(false)

	if err := e.driver.SetDirection(ctx, forward); err != nil {
		return errors.Wrap(err, "setting direction")
	}
	for i := int64(0); i < count; i++ {
		if err := e.driver.SetStep(ctx, true); err != nil {
			return errors.Wrapf(err, "asserting step %d of %d", i+1, count)
		}
		e.wait(e.settings.PulseWidth)
		if err := e.driver.SetStep(ctx, false); err != nil {
			return errors.Wrapf(err, "releasing step %d of %d", i+1, count)
		}
		e.wait(low)
	}
	return nil
}
