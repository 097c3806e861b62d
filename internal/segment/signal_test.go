package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTime_String(t *testing.T) {
	tests := []struct {
		in   Time
		want string
	}{
		{Seconds(1), "1.0"},
		{Seconds(2.5), "2.5"},
		{Seconds(0), "0.0"},
		{Seconds(0.1 + 0.2), "0.30000000000000004"},
		{Samples(0), "0"},
		{Samples(48000), "48000"},
		{Frames(3), "3"},
		{Milliseconds(90), "90"},
		{Milliseconds(12.5), "12.5"},
		{Clock(0), "00:00:00,000"},
		{Clock(1.5), "00:00:01,500"},
		{Clock(3725.042), "01:02:05,042"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.String())
		})
	}
}

func TestTiming_Convert(t *testing.T) {
	timing := Timing{SampleRate: 16000, FrameLength: 480}

	assert.Equal(t, Samples(1440), timing.Convert(Frames(3), UnitSample))
	assert.Equal(t, Milliseconds(90), timing.Convert(Frames(3), UnitMillisecond))
	assert.Equal(t, Frames(3), timing.Convert(Milliseconds(90), UnitFrame))
	assert.Equal(t, Seconds(1), timing.Convert(Samples(16000), UnitSecond))
	assert.Equal(t, Clock(1), timing.Convert(Samples(16000), UnitClock))
}

func TestParseUnit(t *testing.T) {
	for _, u := range []Unit{UnitFrame, UnitSample, UnitMillisecond, UnitSecond, UnitClock} {
		got, err := ParseUnit(u.String())
		require.NoError(t, err)
		assert.Equal(t, u, got)
	}

	_, err := ParseUnit("fortnight")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestFrameSignal_Binarize(t *testing.T) {
	sig := FrameSignal{SampleRate: 16000, FrameLength: 160, Probabilities: []float64{0.4, 0.5, 0.6}}

	got := sig.Binarize(0.5)
	assert.Equal(t, []bool{false, false, true}, got.Decisions)
	assert.Equal(t, sig.Timing(), got.Timing())
	assert.Nil(t, got.Probabilities)
}
