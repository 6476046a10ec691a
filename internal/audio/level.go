package audio

import "math"

// SilenceDB is the mean volume reported for an all-zero buffer, the
// floor of 16-bit audio.
const SilenceDB = -91.0

// MeanVolumeDB returns the RMS level of b across all channels in dBFS,
// the figure ffmpeg's volumedetect reports as mean_volume.
func MeanVolumeDB(b *Buffer) float64 {
	var sum float64
	var n int
	for _, ch := range b.Data {
		for _, s := range ch {
			sum += float64(s) * float64(s)
		}
		n += len(ch)
	}
	if n == 0 || sum == 0 {
		return SilenceDB
	}
	return math.Max(10*math.Log10(sum/float64(n)), SilenceDB)
}
