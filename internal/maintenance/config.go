package maintenance

import (
	"fmt"
	"math"
	"time"
)

// Config controls which streams are maintained and how hard.
type Config struct {
	// Enabled turns cycle execution on or off. A disabled scheduler keeps its
	// timer running but skips every tick.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// IntervalSeconds is the time between cycles.
	IntervalSeconds int `json:"intervalSeconds" yaml:"intervalSeconds"`

	// Streams lists the maintained streams in the order they are visited.
	Streams []string `json:"streams" yaml:"streams"`

	// DefaultMaxLength bounds every stream without an entry in PerStreamLimits.
	DefaultMaxLength int64 `json:"defaultMaxLength" yaml:"defaultMaxLength"`

	// PerStreamLimits overrides DefaultMaxLength for individual streams.
	PerStreamLimits map[string]int64 `json:"perStreamLimits" yaml:"perStreamLimits"`

	// ApproximateTrim lets the backend pick a cheaper trim boundary.
	ApproximateTrim bool `json:"approximateTrim" yaml:"approximateTrim"`

	// ApproximateTolerance is the fraction above the limit that an
	// approximate trim may leave behind. It does not change which streams
	// are trimmed.
	ApproximateTolerance float64 `json:"approximateTolerance" yaml:"approximateTolerance"`

	// MaxOperationsPerCycle caps trim operations attempted per cycle.
	MaxOperationsPerCycle int `json:"maxOperationsPerCycle" yaml:"maxOperationsPerCycle"`

	// OperationDelaySeconds is slept between successive trims in a cycle.
	OperationDelaySeconds float64 `json:"operationDelaySeconds" yaml:"operationDelaySeconds"`

	// OperationTimeoutSeconds bounds each backend call.
	OperationTimeoutSeconds float64 `json:"operationTimeoutSeconds" yaml:"operationTimeoutSeconds"`

	// ShutdownTimeoutSeconds bounds how long Stop waits for the loop.
	ShutdownTimeoutSeconds float64 `json:"shutdownTimeoutSeconds" yaml:"shutdownTimeoutSeconds"`
}

// DefaultStreams are the streams of the fault-diagnosis pipeline.
var DefaultStreams = []string{
	"motor_raw_data",
	"bearing_fault_stream",
	"broken_bar_stream",
	"eccentricity_stream",
	"insulation_stream",
	"misalignment_stream",
	"fault_diagnosis_results",
	"vehicle_health_assessment",
	"performance_metrics",
}

// DefaultConfig returns the stock maintenance configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		IntervalSeconds:  300,
		Streams:          append([]string(nil), DefaultStreams...),
		DefaultMaxLength: 10000,
		PerStreamLimits: map[string]int64{
			"motor_raw_data":            5000,
			"fault_diagnosis_results":   20000,
			"vehicle_health_assessment": 20000,
			"performance_metrics":       2000,
		},
		ApproximateTrim:         true,
		ApproximateTolerance:    0.01,
		MaxOperationsPerCycle:   5,
		OperationDelaySeconds:   0.1,
		OperationTimeoutSeconds: 10,
		ShutdownTimeoutSeconds:  30,
	}
}

// Interval returns IntervalSeconds as a duration.
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// OperationDelay returns OperationDelaySeconds as a duration.
func (c Config) OperationDelay() time.Duration {
	return seconds(c.OperationDelaySeconds)
}

// OperationTimeout returns OperationTimeoutSeconds as a duration.
func (c Config) OperationTimeout() time.Duration {
	return seconds(c.OperationTimeoutSeconds)
}

// ShutdownTimeout returns ShutdownTimeoutSeconds as a duration.
func (c Config) ShutdownTimeout() time.Duration {
	return seconds(c.ShutdownTimeoutSeconds)
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	out := c
	out.Streams = append([]string(nil), c.Streams...)
	out.PerStreamLimits = make(map[string]int64, len(c.PerStreamLimits))
	for k, v := range c.PerStreamLimits {
		out.PerStreamLimits[k] = v
	}
	return out
}

// Validate reports the first invalid field as a *ConfigError.
func (c Config) Validate() error {
	if c.IntervalSeconds <= 0 {
		return &ConfigError{Field: "intervalSeconds", Reason: "must be positive"}
	}
	if c.DefaultMaxLength <= 0 {
		return &ConfigError{Field: "defaultMaxLength", Reason: "must be positive"}
	}
	for name, limit := range c.PerStreamLimits {
		if name == "" {
			return &ConfigError{Field: "perStreamLimits", Reason: "stream name must not be empty"}
		}
		if limit <= 0 {
			return &ConfigError{Field: "perStreamLimits." + name, Reason: "must be positive"}
		}
	}
	seen := make(map[string]struct{}, len(c.Streams))
	for _, name := range c.Streams {
		if name == "" {
			return &ConfigError{Field: "streams", Reason: "stream name must not be empty"}
		}
		if _, dup := seen[name]; dup {
			return &ConfigError{Field: "streams", Reason: fmt.Sprintf("duplicate stream %q", name)}
		}
		seen[name] = struct{}{}
	}
	if c.MaxOperationsPerCycle < 1 {
		return &ConfigError{Field: "maxOperationsPerCycle", Reason: "must be at least 1"}
	}
	if invalidNonNegative(c.OperationDelaySeconds) {
		return &ConfigError{Field: "operationDelaySeconds", Reason: "must be zero or positive"}
	}
	if invalidNonNegative(c.ApproximateTolerance) {
		return &ConfigError{Field: "approximateTolerance", Reason: "must be zero or positive"}
	}
	if invalidTimeout(c.OperationTimeoutSeconds) {
		return &ConfigError{Field: "operationTimeoutSeconds", Reason: "must be positive and finite"}
	}
	if invalidTimeout(c.ShutdownTimeoutSeconds) {
		return &ConfigError{Field: "shutdownTimeoutSeconds", Reason: "must be positive and finite"}
	}
	return nil
}

func invalidNonNegative(f float64) bool {
	return f < 0 || math.IsNaN(f) || math.IsInf(f, 0)
}

// maxSeconds is the largest value seconds converts without overflow.
var maxSeconds = float64(math.MaxInt64 / int64(time.Second))

func invalidTimeout(f float64) bool {
	return f <= 0 || invalidNonNegative(f) || f > maxSeconds
}

// ConfigUpdate is a partial Config. Nil fields are left untouched by Merge;
// PerStreamLimits entries are merged key by key.
type ConfigUpdate struct {
	Enabled                 *bool            `json:"enabled,omitempty"`
	IntervalSeconds         *int             `json:"intervalSeconds,omitempty"`
	Streams                 []string         `json:"streams,omitempty"`
	DefaultMaxLength        *int64           `json:"defaultMaxLength,omitempty"`
	PerStreamLimits         map[string]int64 `json:"perStreamLimits,omitempty"`
	ApproximateTrim         *bool            `json:"approximateTrim,omitempty"`
	ApproximateTolerance    *float64         `json:"approximateTolerance,omitempty"`
	MaxOperationsPerCycle   *int             `json:"maxOperationsPerCycle,omitempty"`
	OperationDelaySeconds   *float64         `json:"operationDelaySeconds,omitempty"`
	OperationTimeoutSeconds *float64         `json:"operationTimeoutSeconds,omitempty"`
	ShutdownTimeoutSeconds  *float64         `json:"shutdownTimeoutSeconds,omitempty"`
}

// Merge applies u to a copy of c and validates the result. c is never
// modified; on error the returned Config is the unmodified copy.
func (c Config) Merge(u ConfigUpdate) (Config, error) {
	out := c.Clone()
	if u.Enabled != nil {
		out.Enabled = *u.Enabled
	}
	if u.IntervalSeconds != nil {
		out.IntervalSeconds = *u.IntervalSeconds
	}
	if u.Streams != nil {
		out.Streams = append([]string(nil), u.Streams...)
	}
	if u.DefaultMaxLength != nil {
		out.DefaultMaxLength = *u.DefaultMaxLength
	}
	for name, limit := range u.PerStreamLimits {
		out.PerStreamLimits[name] = limit
	}
	if u.ApproximateTrim != nil {
		out.ApproximateTrim = *u.ApproximateTrim
	}
	if u.ApproximateTolerance != nil {
		out.ApproximateTolerance = *u.ApproximateTolerance
	}
	if u.MaxOperationsPerCycle != nil {
		out.MaxOperationsPerCycle = *u.MaxOperationsPerCycle
	}
	if u.OperationDelaySeconds != nil {
		out.OperationDelaySeconds = *u.OperationDelaySeconds
	}
	if u.OperationTimeoutSeconds != nil {
		out.OperationTimeoutSeconds = *u.OperationTimeoutSeconds
	}
	if u.ShutdownTimeoutSeconds != nil {
		out.ShutdownTimeoutSeconds = *u.ShutdownTimeoutSeconds
	}
	if err := out.Validate(); err != nil {
		return c.Clone(), err
	}
	return out, nil
}
