package engine

import "math"

// Time is engine time in seconds.
type Time float64

const fractionScale = 1 << 32

// TimeToTimetag converts t to the engine's 64-bit fixed-point time: whole
// seconds in the upper 32 bits, the fraction in the lower 32 bits. Negative
// and NaN times map to 0; times past the representable range saturate.
func TimeToTimetag(t Time) uint64 {
	v := float64(t)
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= math.MaxUint32+1 {
		return math.MaxUint64
	}
	sec := math.Floor(v)
	frac := (v - sec) * fractionScale
	return uint64(sec)<<32 | uint64(frac)
}

// TimetagToTime converts a fixed-point time back to seconds.
func TimetagToTime(tag uint64) Time {
	sec := float64(tag >> 32)
	frac := float64(uint32(tag)) / fractionScale
	return Time(sec + frac)
}

// SplitTimetag returns the seconds and fraction halves of tag.
func SplitTimetag(tag uint64) (seconds, fraction uint32) {
	return uint32(tag >> 32), uint32(tag)
}
