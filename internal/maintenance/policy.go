package maintenance

// StreamDescriptor is the trim policy that applies to one stream for one
// operation.
type StreamDescriptor struct {
	Name               string
	EffectiveMaxLength int64
	Approximate        bool
}

// TrimOverride carries per-operation overrides supplied with a manual trim.
type TrimOverride struct {
	MaxLength   *int64
	Approximate *bool
}

// Resolve returns the descriptor for stream under cfg. The limit is the
// stream's entry in PerStreamLimits, or DefaultMaxLength when absent.
func Resolve(stream string, cfg Config) StreamDescriptor {
	return ResolveWithOverride(stream, cfg, TrimOverride{})
}

// ResolveWithOverride is Resolve with override values taking precedence for
// this single operation.
func ResolveWithOverride(stream string, cfg Config, o TrimOverride) StreamDescriptor {
	limit := cfg.DefaultMaxLength
	if l, ok := cfg.PerStreamLimits[stream]; ok {
		limit = l
	}
	if o.MaxLength != nil {
		limit = *o.MaxLength
	}

	approximate := cfg.ApproximateTrim
	if o.Approximate != nil {
		approximate = *o.Approximate
	}

	return StreamDescriptor{
		Name:               stream,
		EffectiveMaxLength: limit,
		Approximate:        approximate,
	}
}

// NeedsTrim reports whether a stream of the given length is over its limit.
// Approximate mode never widens the limit.
func (d StreamDescriptor) NeedsTrim(length int64) bool {
	return length > d.EffectiveMaxLength
}

// WithinBounds reports whether length is an acceptable result of trimming
// under d. An approximate trim may stop up to tolerance above the limit.
func (d StreamDescriptor) WithinBounds(length int64, tolerance float64) bool {
	if length <= d.EffectiveMaxLength {
		return true
	}
	if !d.Approximate || tolerance <= 0 {
		return false
	}
	slack := int64(float64(d.EffectiveMaxLength) * tolerance)
	return length <= d.EffectiveMaxLength+slack
}
