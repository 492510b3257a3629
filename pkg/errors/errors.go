// Unified error handling for the probetherm host
//
// Copyright (C) 2026  Probetherm Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrConfigType       ErrorCode = "CONFIG_TYPE"

	// G-code command errors
	ErrGCodeParse        ErrorCode = "GCODE_PARSE"
	ErrGCodeUnknownCmd   ErrorCode = "GCODE_UNKNOWN_CMD"
	ErrGCodeMissingParam ErrorCode = "GCODE_MISSING_PARAM"
	ErrGCodeInvalidParam ErrorCode = "GCODE_INVALID_PARAM"

	// Thermal subsystem errors
	ErrThermalRange   ErrorCode = "THERMAL_RANGE"
	ErrThermalSensor  ErrorCode = "THERMAL_SENSOR"
	ErrThermalHeater  ErrorCode = "THERMAL_HEATER"
	ErrThermalChannel ErrorCode = "THERMAL_CHANNEL"

	// MCU link errors
	ErrMCUConnect  ErrorCode = "MCU_CONNECT"
	ErrMCUProtocol ErrorCode = "MCU_PROTOCOL"
	ErrMCUTimeout  ErrorCode = "MCU_TIMEOUT"

	// Storage and telemetry errors
	ErrStorage   ErrorCode = "STORAGE"
	ErrTelemetry ErrorCode = "TELEMETRY"

	// Runtime errors
	ErrRuntime     ErrorCode = "RUNTIME"
	ErrRuntimeInit ErrorCode = "RUNTIME_INIT"
	ErrShutdown    ErrorCode = "SHUTDOWN"
)

// HostError is the unified error type for the host
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable description
	Message string

	// Section is the config section or module context
	Section string

	// Option is the config option name, if applicable
	Option string

	// Err wraps the underlying error
	Err error

	// Context carries extra key/value detail
	Context map[string]interface{}
}

// Error implements the error interface
func (e *HostError) Error() string {
	if e.Option != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Option, e.Message)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Code, e.Section, e.Message)
}

// Unwrap returns the wrapped error
func (e *HostError) Unwrap() error {
	return e.Err
}

// SetSection sets the context section
func (e *HostError) SetSection(section string) *HostError {
	e.Section = section
	return e
}

// SetOption sets the config option
func (e *HostError) SetOption(option string) *HostError {
	e.Option = option
	return e
}

// SetContext adds additional context
func (e *HostError) SetContext(key string, value interface{}) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and message
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Config errors

// ConfigSectionError reports a missing config section
func ConfigSectionError(section string) *HostError {
	return New(ErrConfigSection, fmt.Sprintf("section '%s' not found", section)).
		SetSection(section)
}

// ConfigOptionError reports a missing config option
func ConfigOptionError(section, option string) *HostError {
	return New(ErrConfigOption, fmt.Sprintf("option '%s' not found in section '%s'", option, section)).
		SetSection(section).
		SetOption(option)
}

// ConfigValidationError reports a config value that fails validation
func ConfigValidationError(section, option, reason string) *HostError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s' in section '%s': %s", option, section, reason)).
		SetSection(section).
		SetOption(option)
}

// ConfigTypeError reports a config value that fails type conversion
func ConfigTypeError(section, option, value, targetType string, err error) *HostError {
	return Wrap(err, ErrConfigType, fmt.Sprintf("option '%s' in section '%s': failed to parse '%s' as %s", option, section, value, targetType)).
		SetSection(section).
		SetOption(option)
}

// G-code errors

// GCodeParseError reports a G-code line that could not be parsed
func GCodeParseError(line, reason string) *HostError {
	return New(ErrGCodeParse, fmt.Sprintf("failed to parse G-code: %s (reason: %s)", line, reason))
}

// GCodeUnknownCommandError reports an unrecognized command
func GCodeUnknownCommandError(command string) *HostError {
	return New(ErrGCodeUnknownCmd, fmt.Sprintf("unknown G-code command: %s", command))
}

// GCodeMissingParameterError reports a required parameter that is absent
func GCodeMissingParameterError(command, param string) *HostError {
	return New(ErrGCodeMissingParam, fmt.Sprintf("G-code command '%s' missing required parameter: %s", command, param))
}

// GCodeInvalidParameterError reports a parameter with an unusable value
func GCodeInvalidParameterError(command, param, value, reason string) *HostError {
	return New(ErrGCodeInvalidParam, fmt.Sprintf("G-code command '%s': invalid parameter '%s=%s' (%s)", command, param, value, reason))
}

// Thermal errors

// ThermalRangeError reports a target outside a channel's allowed range
func ThermalRangeError(channel string, value, min, max float64) *HostError {
	return New(ErrThermalRange, fmt.Sprintf("requested temperature %.1f for '%s' out of range (%.1f:%.1f)", value, channel, min, max)).
		SetSection(channel)
}

// ThermalSensorError reports a sensor fault
func ThermalSensorError(sensor, reason string) *HostError {
	return New(ErrThermalSensor, fmt.Sprintf("sensor '%s': %s", sensor, reason)).
		SetSection(sensor)
}

// ThermalHeaterError reports a heater fault
func ThermalHeaterError(heater, reason string) *HostError {
	return New(ErrThermalHeater, fmt.Sprintf("heater '%s': %s", heater, reason)).
		SetSection(heater)
}

// ThermalChannelError reports an unresolvable reporting channel
func ThermalChannelError(reason string) *HostError {
	return New(ErrThermalChannel, reason)
}

// MCU errors

// MCUConnectError reports a failed board connection
func MCUConnectError(device string, err error) *HostError {
	return Wrap(err, ErrMCUConnect, fmt.Sprintf("connect to '%s' failed", device)).
		SetSection(device)
}

// MCUProtocolError reports an unparseable board response
func MCUProtocolError(response string) *HostError {
	return New(ErrMCUProtocol, fmt.Sprintf("unexpected board response: %q", response))
}

// MCUTimeoutError reports a board that stopped answering
func MCUTimeoutError(operation string) *HostError {
	return New(ErrMCUTimeout, fmt.Sprintf("board %s timed out", operation))
}

// Storage and telemetry errors

// StorageError wraps a history store failure
func StorageError(operation string, err error) *HostError {
	return Wrap(err, ErrStorage, fmt.Sprintf("history %s failed", operation))
}

// TelemetryError wraps a telemetry publish failure
func TelemetryError(topic string, err error) *HostError {
	return Wrap(err, ErrTelemetry, fmt.Sprintf("publish to '%s' failed", topic))
}

// Runtime errors

// RuntimeError reports a general runtime failure
func RuntimeError(message string) *HostError {
	return New(ErrRuntime, message)
}

// RuntimeInitError reports a component that failed to initialize
func RuntimeInitError(component, reason string) *HostError {
	return New(ErrRuntimeInit, fmt.Sprintf("failed to initialize %s: %s", component, reason)).
		SetSection(component)
}

// ShutdownError reports an operation rejected because the host is shut down
func ShutdownError(operation string) *HostError {
	return New(ErrShutdown, fmt.Sprintf("%s rejected: host is shut down", operation))
}

// Is checks whether err is a HostError with the given code
func Is(err error, code ErrorCode) bool {
	if hostErr, ok := err.(*HostError); ok {
		return hostErr.Code == code
	}
	return false
}

// IsConfig reports whether err is any config error
func IsConfig(err error) bool {
	return Is(err, ErrConfigSection) ||
		Is(err, ErrConfigOption) ||
		Is(err, ErrConfigValidation) ||
		Is(err, ErrConfigType)
}

// IsGCode reports whether err is any G-code error
func IsGCode(err error) bool {
	return Is(err, ErrGCodeParse) ||
		Is(err, ErrGCodeUnknownCmd) ||
		Is(err, ErrGCodeMissingParam) ||
		Is(err, ErrGCodeInvalidParam)
}

// IsThermal reports whether err is any thermal error
func IsThermal(err error) bool {
	return Is(err, ErrThermalRange) ||
		Is(err, ErrThermalSensor) ||
		Is(err, ErrThermalHeater) ||
		Is(err, ErrThermalChannel)
}
