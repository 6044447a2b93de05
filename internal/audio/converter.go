package audio

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/zaf/g711"
)

// BytesToSamples decodes 16-bit little-endian PCM into samples
func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// SamplesToBytes encodes samples as 16-bit little-endian PCM
func SamplesToBytes(samples []int16) []byte {
	pcm := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

// FloatToPCM converts normalized float samples (-1.0..1.0) to 16-bit PCM bytes.
// Out-of-range values are clipped.
func FloatToPCM(samples []float32) []byte {
	pcm := make([]byte, len(samples)*BytesPerSample)
	for i, f := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(floatToSample(f)))
	}
	return pcm
}

// PCMToFloat converts 16-bit PCM bytes to normalized float samples
func PCMToFloat(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out
}

func floatToSample(f float32) int16 {
	if f != f { // NaN
		return 0
	}
	v := float64(f) * 32767.0
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// ConvertPCMToMulaw converts 16-bit PCM to G.711 μ-law, resampling first when
// the rates differ
func ConvertPCMToMulaw(pcm []byte, inputSampleRate, outputSampleRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("empty PCM data")
	}
	if len(pcm)%BytesPerSample != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}

	if inputSampleRate != outputSampleRate {
		pcm = SamplesToBytes(Resample(BytesToSamples(pcm), inputSampleRate, outputSampleRate))
	}
	return g711.EncodeUlaw(pcm), nil
}

// ConvertMulawToPCM decodes G.711 μ-law into 16-bit PCM
func ConvertMulawToPCM(mulaw []byte) ([]byte, error) {
	if len(mulaw) == 0 {
		return nil, fmt.Errorf("empty μ-law data")
	}
	return g711.DecodeUlaw(mulaw), nil
}

// Resample performs linear interpolation resampling
func Resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || inputRate <= 0 || outputRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) / ratio
		idx0 := int(srcPos)
		if idx0 >= len(samples) {
			idx0 = len(samples) - 1
		}
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// CalculateRMS calculates the root mean square of audio samples.
// Used for silence detection and the volume level reported with transcriptions.
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// Volume maps the RMS energy of samples onto 0.0..1.0
func Volume(samples []int16) float64 {
	v := CalculateRMS(samples) / math.MaxInt16
	if v > 1 {
		return 1
	}
	return v
}
