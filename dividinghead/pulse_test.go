package dividinghead

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/board"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/testutils/inject"
	"go.viam.com/test"
)

type pinWrite struct {
	pin  string
	high bool
}

func newFakeBoard(writes *[]pinWrite, names ...string) *inject.Board {
	pins := map[string]*inject.GPIOPin{}
	for _, name := range names {
		name := name
		pin := &inject.GPIOPin{}
		pin.SetFunc = func(ctx context.Context, high bool, extra map[string]interface{}) error {
			*writes = append(*writes, pinWrite{pin: name, high: high})
			return nil
		}
		pins[name] = pin
	}
	b := inject.NewBoard("pi")
	b.GPIOPinByNameFunc = func(name string) (board.GPIOPin, error) {
		pin, ok := pins[name]
		if !ok {
			return nil, errors.Errorf("no pin %q", name)
		}
		return pin, nil
	}
	return b
}

func TestGPIODriver(t *testing.T) {
	ctx := context.Background()

	t.Run("drives step, dir and an active-low enable", func(t *testing.T) {
		var writes []pinWrite
		b := newFakeBoard(&writes, "23", "19", "18")
		d, err := newGPIODriver(b, PinConfig{Step: "23", Direction: "19", EnablePinLow: "18"})
		test.That(t, err, test.ShouldBeNil)

		test.That(t, d.SetEnable(ctx, true), test.ShouldBeNil)
		test.That(t, d.SetDirection(ctx, false), test.ShouldBeNil)
		test.That(t, d.SetStep(ctx, true), test.ShouldBeNil)
		test.That(t, d.SetStep(ctx, false), test.ShouldBeNil)
		test.That(t, d.SetEnable(ctx, false), test.ShouldBeNil)
		test.That(t, writes, test.ShouldResemble, []pinWrite{
			{"18", false},
			{"19", false},
			{"23", true},
			{"23", false},
			{"18", true},
		})
	})

	t.Run("enable is a no-op without an enable pin", func(t *testing.T) {
		var writes []pinWrite
		b := newFakeBoard(&writes, "23", "19")
		d, err := newGPIODriver(b, PinConfig{Step: "23", Direction: "19"})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, d.SetEnable(ctx, false), test.ShouldBeNil)
		test.That(t, writes, test.ShouldBeEmpty)
	})

	t.Run("unknown pins are reported", func(t *testing.T) {
		var writes []pinWrite
		b := newFakeBoard(&writes, "23")
		_, err := newGPIODriver(b, PinConfig{Step: "23", Direction: "19"})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, `dir pin "19"`)
	})
}

func TestEngineOverGPIO(t *testing.T) {
	var writes []pinWrite
	b := newFakeBoard(&writes, "23", "19", "18")
	d, err := newGPIODriver(b, PinConfig{Step: "23", Direction: "19", EnablePinLow: "18"})
	test.That(t, err, test.ShouldBeNil)

	e, err := NewEngine(context.Background(), nema23, d, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	var waits []time.Duration
	e.wait = func(d time.Duration) { waits = append(waits, d) }

	_, err = e.MoveByAngle(context.Background(), -2*resolution, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, writes, test.ShouldResemble, []pinWrite{
		{"18", false},
		{"19", false},
		{"23", true},
		{"23", false},
		{"23", true},
		{"23", false},
	})
	test.That(t, len(waits), test.ShouldEqual, 4)
}

func TestBusyWait(t *testing.T) {
	start := time.Now()
	busyWait(200 * time.Microsecond)
	test.That(t, time.Since(start), test.ShouldBeGreaterThanOrEqualTo, 200*time.Microsecond)
}
