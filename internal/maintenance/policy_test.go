package maintenance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	cfg := DefaultConfig()

	d := Resolve("motor_raw_data", cfg)
	assert.Equal(t, StreamDescriptor{Name: "motor_raw_data", EffectiveMaxLength: 5000, Approximate: true}, d)

	d = Resolve("bearing_fault_stream", cfg)
	assert.Equal(t, int64(10000), d.EffectiveMaxLength)

	cfg.ApproximateTrim = false
	assert.False(t, Resolve("motor_raw_data", cfg).Approximate)
}

func TestResolveWithOverride(t *testing.T) {
	cfg := DefaultConfig()
	limit := int64(100)
	exact := false

	d := ResolveWithOverride("motor_raw_data", cfg, TrimOverride{MaxLength: &limit, Approximate: &exact})
	assert.Equal(t, int64(100), d.EffectiveMaxLength)
	assert.False(t, d.Approximate)

	// Overrides apply to one operation only.
	assert.Equal(t, Resolve("motor_raw_data", cfg), ResolveWithOverride("motor_raw_data", cfg, TrimOverride{}))
	assert.True(t, Resolve("motor_raw_data", cfg).Approximate)
}

func TestNeedsTrim(t *testing.T) {
	approx := StreamDescriptor{Name: "s", EffectiveMaxLength: 1000, Approximate: true}

	assert.False(t, approx.NeedsTrim(999))
	assert.False(t, approx.NeedsTrim(1000))
	assert.True(t, approx.NeedsTrim(1001))
	assert.True(t, approx.NeedsTrim(1010), "approximate mode does not widen the limit")
}

func TestWithinBounds(t *testing.T) {
	approx := StreamDescriptor{Name: "s", EffectiveMaxLength: 1000, Approximate: true}
	exact := StreamDescriptor{Name: "s", EffectiveMaxLength: 1000}

	tests := []struct {
		name      string
		d         StreamDescriptor
		length    int64
		tolerance float64
		want      bool
	}{
		{"below limit", exact, 999, 0.01, true},
		{"at limit", exact, 1000, 0.01, true},
		{"exact over limit", exact, 1001, 0.01, false},
		{"approximate within slack", approx, 1010, 0.01, true},
		{"approximate beyond slack", approx, 1011, 0.01, false},
		{"approximate zero tolerance", approx, 1001, 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.d.WithinBounds(tc.length, tc.tolerance))
		})
	}
}
