package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimeToTimetag(t *testing.T) {
	tests := []struct {
		name string
		in   Time
		want uint64
	}{
		{name: "zero", in: 0, want: 0},
		{name: "negative", in: -1.5, want: 0},
		{name: "nan", in: Time(math.NaN()), want: 0},
		{name: "half", in: 0.5, want: 0x80000000},
		{name: "one and a quarter", in: 1.25, want: 1<<32 | 0x40000000},
		{name: "smallest fraction", in: 1.0 / (1 << 32), want: 1},
		{name: "largest fraction", in: Time(3 + float64(math.MaxUint32)/(1<<32)), want: 3<<32 | math.MaxUint32},
		{name: "saturates", in: Time(float64(math.MaxUint32) + 2), want: math.MaxUint64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TimeToTimetag(tt.in))
		})
	}
}

// The fraction keeps all 32 bits for times whose seconds fit the float64
// mantissa alongside it.
func TestTimetagFractionRoundTrip(t *testing.T) {
	fractions := []uint32{0, 1, 2, 0x7fffffff, 0x80000000, 0x80000001, 0xdeadbeef, math.MaxUint32}
	for _, sec := range []uint64{0, 1, 59, 3600, 1 << 20} {
		for _, frac := range fractions {
			tag := sec<<32 | uint64(frac)
			if tag == 0 {
				continue
			}
			got := TimeToTimetag(TimetagToTime(tag))
			assert.Equal(t, tag, got, "sec=%d frac=%#x", sec, frac)

			s, f := SplitTimetag(got)
			assert.Equal(t, uint32(sec), s)
			assert.Equal(t, frac, f)
		}
	}
}
