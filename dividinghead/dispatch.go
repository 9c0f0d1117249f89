package dividinghead

import (
	"context"
	"math"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// Operations understood by the Dispatcher.
const (
	OpGetStatus     = "get_status"
	OpMove          = "move"
	OpDivide        = "divide"
	OpReset         = "reset"
	OpEmergencyStop = "emergency_stop"
	OpEnableMotor   = "enable_motor"
)

// Operation parameters.
const (
	ParamAngle     = "angle"
	ParamRPM       = "rpm"
	ParamDivisions = "divisions"
)

const (
	statusOK    = "ok"
	statusError = "error"
)

// Result is the outcome of a dispatched operation: payload fields on success, Err on failure.
type Result struct {
	Data map[string]interface{}
	Err  error
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Message describes the failure for the caller. Validation failures and unexpected faults are
// reported differently so that callers know when to re-read the status.
func (r Result) Message() string {
	switch {
	case r.Err == nil:
		return ""
	case errors.Is(r.Err, errUnknownOperation):
		return r.Err.Error()
	case IsValidationError(r.Err):
		return "parameter error: " + r.Err.Error()
	default:
		return "internal error: " + r.Err.Error()
	}
}

// Map renders the result as the structured payload handed to the transport.
func (r Result) Map() map[string]interface{} {
	if r.Err != nil {
		return map[string]interface{}{
			"status":  statusError,
			"message": r.Message(),
		}
	}
	out := make(map[string]interface{}, len(r.Data)+1)
	for k, v := range r.Data {
		out[k] = v
	}
	out["status"] = statusOK
	return out
}

var errUnknownOperation = errors.New("invalid endpoint")

// Dispatcher maps named operations with string parameters onto an Engine. It services one
// operation at a time, in arrival order.
type Dispatcher struct {
	mu     sync.Mutex
	engine *Engine
	logger logging.Logger
}

// NewDispatcher returns a Dispatcher driving engine.
func NewDispatcher(engine *Engine, logger logging.Logger) *Dispatcher {
	return &Dispatcher{engine: engine, logger: logger}
}

// Dispatch runs the named operation. Parameters that fail to parse are reported in the Result,
// as are engine failures; Dispatch itself never fails.
func (d *Dispatcher) Dispatch(ctx context.Context, op string, params map[string]string) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := d.dispatch(ctx, op, params)
	if err != nil {
		if !IsValidationError(err) && !errors.Is(err, errUnknownOperation) {
			d.logger.CErrorf(ctx, "%s failed: %v", op, err)
		} else {
			d.logger.CDebugf(ctx, "%s rejected: %v", op, err)
		}
		return Result{Err: err}
	}
	return Result{Data: data}
}

func (d *Dispatcher) dispatch(ctx context.Context, op string, params map[string]string) (map[string]interface{}, error) {
	switch op {
	case OpGetStatus:
		return map[string]interface{}{"data": statusMap(d.engine.Status())}, nil
	case OpMove:
		return d.move(ctx, params)
	case OpDivide:
		return d.divide(ctx, params)
	case OpReset:
		if err := d.engine.ResetToZero(ctx); err != nil {
			return nil, err
		}
		return map[string]interface{}{"current_angle": 0.0}, nil
	case OpEmergencyStop:
		if err := d.engine.EmergencyStop(ctx); err != nil {
			return nil, err
		}
		return map[string]interface{}{"enabled": false}, nil
	case OpEnableMotor:
		if err := d.engine.Resume(ctx); err != nil {
			return nil, err
		}
		return map[string]interface{}{"enabled": true}, nil
	default:
		return nil, errUnknownOperation
	}
}

func (d *Dispatcher) move(ctx context.Context, params map[string]string) (map[string]interface{}, error) {
	angle, err := parseRequiredFloat(params, ParamAngle)
	if err != nil {
		return nil, err
	}
	rpm, err := parseOptionalFloat(params, ParamRPM)
	if err != nil {
		return nil, err
	}
	m, err := d.engine.Move(ctx, angle, rpm)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"actual_angle": m.Degrees,
		"current_rpm":  m.RPM,
	}, nil
}

func (d *Dispatcher) divide(ctx context.Context, params map[string]string) (map[string]interface{}, error) {
	raw, ok := params[ParamDivisions]
	if !ok || raw == "" {
		return nil, &ParameterParseError{Param: ParamDivisions, Err: errors.New("required")}
	}
	divisions, err := strconv.Atoi(raw)
	if err != nil {
		return nil, &ParameterParseError{Param: ParamDivisions, Value: raw, Err: err}
	}
	rpm, err := parseOptionalFloat(params, ParamRPM)
	if err != nil {
		return nil, err
	}
	m, err := d.engine.Divide(ctx, divisions, rpm)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"divisions":          divisions,
		"angle_per_division": m.Degrees,
		"current_angle":      m.CurrentAngle,
	}, nil
}

func parseRequiredFloat(params map[string]string, name string) (float64, error) {
	raw, ok := params[name]
	if !ok || raw == "" {
		return 0, &ParameterParseError{Param: name, Err: errors.New("required")}
	}
	return parseFloat(name, raw)
}

// parseOptionalFloat returns nil for a missing or empty parameter.
func parseOptionalFloat(params map[string]string, name string) (*float64, error) {
	raw, ok := params[name]
	if !ok || raw == "" {
		return nil, nil
	}
	v, err := parseFloat(name, raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseFloat(name, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &ParameterParseError{Param: name, Value: raw, Err: err}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ParameterParseError{Param: name, Value: raw, Err: errors.New("not a finite number")}
	}
	return v, nil
}

func statusMap(s Status) map[string]interface{} {
	return map[string]interface{}{
		"current_angle": s.CurrentAngle,
		"rpm":           s.RPM,
		"max_rpm":       s.MaxRPM,
		"enabled":       s.Enabled,
		"resolution":    s.Resolution,
		"steps_per_rev": s.StepsPerRev,
		"microsteps":    s.Microsteps,
	}
}
