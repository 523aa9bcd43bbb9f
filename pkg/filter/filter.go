// Package filter provides the audio-transform descriptors understood by the
// remote audio node and the per-player stack that combines them into a single
// wire payload.
//
// Each descriptor serializes to the exact field names of the node's filter
// contract; the payload shapes must not be changed independently of the
// endpoint version this library targets.
package filter

import (
	"errors"
	"fmt"
)

// Type tags a filter descriptor. The tag doubles as the wire key of the
// filter's payload fragment.
type Type string

const (
	TypeChannelMix Type = "channelMix"
	TypeDistortion Type = "distortion"
	TypeEqualizer  Type = "equalizer"
	TypeKaraoke    Type = "karaoke"
	TypeLowPass    Type = "lowPass"
	TypeRotation   Type = "rotation"
	TypeTimescale  Type = "timescale"
	TypeTremolo    Type = "tremolo"
	TypeVibrato    Type = "vibrato"
)

// ErrInvalidArgument is returned by filter constructors when a parameter is
// outside its valid range.
var ErrInvalidArgument = errors.New("invalid filter argument")

// ErrNotPresent is returned when removing a filter type that is not active.
var ErrNotPresent = errors.New("filter type not present")

// Filter is a single immutable audio-transform descriptor. The set of
// implementations is closed; all of them live in this package.
type Filter interface {
	// Type returns the descriptor's type tag.
	Type() Type

	// payload returns the wire fragment stored under the type tag in the
	// combined filter payload.
	payload() any
}

// Timescale changes the speed, pitch, and rate of playback.
type Timescale struct {
	Speed float64
	Pitch float64
	Rate  float64
}

// NewTimescale builds a Timescale filter. All parameters must be greater
// than zero; pass 1.0 for any parameter that should stay unchanged.
func NewTimescale(speed, pitch, rate float64) (Timescale, error) {
	if speed <= 0 {
		return Timescale{}, fmt.Errorf("%w: timescale speed must be greater than 0", ErrInvalidArgument)
	}
	if pitch <= 0 {
		return Timescale{}, fmt.Errorf("%w: timescale pitch must be greater than 0", ErrInvalidArgument)
	}
	if rate <= 0 {
		return Timescale{}, fmt.Errorf("%w: timescale rate must be greater than 0", ErrInvalidArgument)
	}
	return Timescale{Speed: speed, Pitch: pitch, Rate: rate}, nil
}

// Vaporwave is a Timescale preset that slows playback down to the feel of a
// half-speed record.
func Vaporwave() Timescale { return Timescale{Speed: 0.8, Pitch: 0.8, Rate: 1.0} }

// Nightcore is a Timescale preset that speeds playback up and raises pitch.
func Nightcore() Timescale { return Timescale{Speed: 1.25, Pitch: 1.3, Rate: 1.0} }

func (Timescale) Type() Type { return TypeTimescale }

func (f Timescale) payload() any {
	return struct {
		Speed float64 `json:"speed"`
		Pitch float64 `json:"pitch"`
		Rate  float64 `json:"rate"`
	}{f.Speed, f.Pitch, f.Rate}
}

// EqualizerBand is one band of the fifteen-band equalizer. Band indices run
// from 0 (lowest frequency) to 14 (highest). Gain is in [-0.25, 1.0] where 0
// leaves the band unchanged.
type EqualizerBand struct {
	Band int     `json:"band"`
	Gain float64 `json:"gain"`
}

// Equalizer is a fifteen-band equalizer. Always contains exactly fifteen
// bands in ascending band order.
type Equalizer struct {
	bands [15]float64
}

// NewEqualizer builds an Equalizer from a band→gain mapping. Bands not named
// in gains stay at 0. Band indices outside [0, 14] are rejected.
func NewEqualizer(gains map[int]float64) (Equalizer, error) {
	var eq Equalizer
	for band, gain := range gains {
		if band < 0 || band > 14 {
			return Equalizer{}, fmt.Errorf("%w: equalizer band %d is outside [0, 14]", ErrInvalidArgument, band)
		}
		eq.bands[band] = gain
	}
	return eq, nil
}

// Flat is an equalizer preset with every band at its default level.
func Flat() Equalizer { return Equalizer{} }

// Boost is an equalizer preset that emphasizes bass and highs.
func Boost() Equalizer {
	return Equalizer{bands: [15]float64{
		-0.075, 0.125, 0.125, 0.1, 0.1, 0.05, 0.075, 0, 0, 0, 0, 0, 0.125, 0.15, 0.05,
	}}
}

// Metal is an equalizer preset that raises the mids for a fuller sound.
func Metal() Equalizer {
	return Equalizer{bands: [15]float64{
		0, 0.1, 0.1, 0.15, 0.13, 0.1, 0, 0.125, 0.175, 0.175, 0.125, 0.125, 0.1, 0.075, 0,
	}}
}

// Piano is an equalizer preset that raises mids and highs.
func Piano() Equalizer {
	return Equalizer{bands: [15]float64{
		-0.25, -0.25, -0.125, 0, 0.25, 0.25, 0, -0.25, -0.25, 0, 0, 0.5, 0.25, -0.025, 0,
	}}
}

// Bands returns the fifteen bands in ascending order.
func (f Equalizer) Bands() []EqualizerBand {
	out := make([]EqualizerBand, len(f.bands))
	for i, gain := range f.bands {
		out[i] = EqualizerBand{Band: i, Gain: gain}
	}
	return out
}

func (Equalizer) Type() Type { return TypeEqualizer }

func (f Equalizer) payload() any { return f.Bands() }

// Karaoke suppresses the vocal band of a track, leaving the instrumental.
type Karaoke struct {
	Level       float64
	MonoLevel   float64
	FilterBand  float64
	FilterWidth float64
}

// NewKaraoke returns a Karaoke filter with the node's default parameters.
func NewKaraoke() Karaoke {
	return Karaoke{Level: 1.0, MonoLevel: 1.0, FilterBand: 220.0, FilterWidth: 100.0}
}

func (Karaoke) Type() Type { return TypeKaraoke }

func (f Karaoke) payload() any {
	return struct {
		Level       float64 `json:"level"`
		MonoLevel   float64 `json:"monoLevel"`
		FilterBand  float64 `json:"filterBand"`
		FilterWidth float64 `json:"filterWidth"`
	}{f.Level, f.MonoLevel, f.FilterBand, f.FilterWidth}
}

// Tremolo produces a wavering tone by oscillating the volume.
type Tremolo struct {
	Frequency float64
	Depth     float64
}

// NewTremolo builds a Tremolo filter. Frequency must be greater than 0 and
// depth must be in (0, 1].
func NewTremolo(frequency, depth float64) (Tremolo, error) {
	if frequency <= 0 {
		return Tremolo{}, fmt.Errorf("%w: tremolo frequency must be greater than 0", ErrInvalidArgument)
	}
	if depth <= 0 || depth > 1 {
		return Tremolo{}, fmt.Errorf("%w: tremolo depth must be in (0, 1]", ErrInvalidArgument)
	}
	return Tremolo{Frequency: frequency, Depth: depth}, nil
}

func (Tremolo) Type() Type { return TypeTremolo }

func (f Tremolo) payload() any {
	return struct {
		Frequency float64 `json:"frequency"`
		Depth     float64 `json:"depth"`
	}{f.Frequency, f.Depth}
}

// Vibrato produces a wavering tone by oscillating the pitch.
type Vibrato struct {
	Frequency float64
	Depth     float64
}

// NewVibrato builds a Vibrato filter. Frequency must be in (0, 14] and depth
// in (0, 1].
func NewVibrato(frequency, depth float64) (Vibrato, error) {
	if frequency <= 0 || frequency > 14 {
		return Vibrato{}, fmt.Errorf("%w: vibrato frequency must be in (0, 14]", ErrInvalidArgument)
	}
	if depth <= 0 || depth > 1 {
		return Vibrato{}, fmt.Errorf("%w: vibrato depth must be in (0, 1]", ErrInvalidArgument)
	}
	return Vibrato{Frequency: frequency, Depth: depth}, nil
}

func (Vibrato) Type() Type { return TypeVibrato }

func (f Vibrato) payload() any {
	return struct {
		Frequency float64 `json:"frequency"`
		Depth     float64 `json:"depth"`
	}{f.Frequency, f.Depth}
}

// Rotation pans the audio around the listener at the given frequency.
type Rotation struct {
	RotationHz float64
}

func (Rotation) Type() Type { return TypeRotation }

func (f Rotation) payload() any {
	return struct {
		RotationHz float64 `json:"rotationHz"`
	}{f.RotationHz}
}

// ChannelMix adjusts how the left and right channels mix into each other.
// A value of 1.0 on both straight paths and 0.0 on both cross paths leaves
// the audio unchanged; 0.5 everywhere produces mono.
type ChannelMix struct {
	LeftToLeft   float64
	LeftToRight  float64
	RightToLeft  float64
	RightToRight float64
}

// NewChannelMix builds a ChannelMix filter. Every factor must be in [0, 1].
func NewChannelMix(leftToLeft, leftToRight, rightToLeft, rightToRight float64) (ChannelMix, error) {
	for _, v := range []float64{leftToLeft, leftToRight, rightToLeft, rightToRight} {
		if v < 0 || v > 1 {
			return ChannelMix{}, fmt.Errorf("%w: channel mix factors must be in [0, 1]", ErrInvalidArgument)
		}
	}
	return ChannelMix{
		LeftToLeft:   leftToLeft,
		LeftToRight:  leftToRight,
		RightToLeft:  rightToLeft,
		RightToRight: rightToRight,
	}, nil
}

func (ChannelMix) Type() Type { return TypeChannelMix }

func (f ChannelMix) payload() any {
	return struct {
		LeftToLeft   float64 `json:"leftToLeft"`
		LeftToRight  float64 `json:"leftToRight"`
		RightToLeft  float64 `json:"rightToLeft"`
		RightToRight float64 `json:"rightToRight"`
	}{f.LeftToLeft, f.LeftToRight, f.RightToLeft, f.RightToRight}
}

// Distortion applies trigonometric distortion to the signal.
type Distortion struct {
	SinOffset float64
	SinScale  float64
	CosOffset float64
	CosScale  float64
	TanOffset float64
	TanScale  float64
	Offset    float64
	Scale     float64
}

// NewDistortion returns a Distortion filter with neutral parameters.
func NewDistortion() Distortion {
	return Distortion{SinScale: 1, CosScale: 1, TanScale: 1, Scale: 1}
}

func (Distortion) Type() Type { return TypeDistortion }

func (f Distortion) payload() any {
	return struct {
		SinOffset float64 `json:"sinOffset"`
		SinScale  float64 `json:"sinScale"`
		CosOffset float64 `json:"cosOffset"`
		CosScale  float64 `json:"cosScale"`
		TanOffset float64 `json:"tanOffset"`
		TanScale  float64 `json:"tanScale"`
		Offset    float64 `json:"offset"`
		Scale     float64 `json:"scale"`
	}{f.SinOffset, f.SinScale, f.CosOffset, f.CosScale, f.TanOffset, f.TanScale, f.Offset, f.Scale}
}

// LowPass suppresses higher frequencies, letting lower frequencies pass.
// Higher smoothing values cut more aggressively.
type LowPass struct {
	Smoothing float64
}

func (LowPass) Type() Type { return TypeLowPass }

func (f LowPass) payload() any {
	return struct {
		Smoothing float64 `json:"smoothing"`
	}{f.Smoothing}
}
