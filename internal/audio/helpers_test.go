package audio

import "math"

// tone returns a mono sine wave at 440 Hz.
func tone(sampleRate int, seconds, amplitude float64) Waveform {
	n := int(seconds * float64(sampleRate))
	w := Waveform{SampleRate: sampleRate, Channels: 1, Samples: make([]int16, n)}
	for i := range w.Samples {
		w.Samples[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}
	return w
}

// silence returns a mono waveform of zeros.
func silence(sampleRate int, seconds float64) Waveform {
	return Waveform{SampleRate: sampleRate, Channels: 1, Samples: make([]int16, int(seconds*float64(sampleRate)))}
}

// ramp returns a mono waveform whose samples count up from zero, so any
// reordering or loss of samples is visible.
func ramp(sampleRate, frames int) Waveform {
	w := Waveform{SampleRate: sampleRate, Channels: 1, Samples: make([]int16, frames)}
	for i := range w.Samples {
		w.Samples[i] = int16(i % 32000)
	}
	return w
}
