package audio

import (
	"encoding/binary"
	"fmt"
	"os"
)

const wavHeaderSize = 44

// ParseWAV extracts the sample rate and raw PCM data from a RIFF/WAVE file.
// Only 16-bit mono PCM is accepted since that is what segments carry.
func ParseWAV(data []byte) (sampleRate int, pcm []byte, err error) {
	if len(data) < wavHeaderSize {
		return 0, nil, fmt.Errorf("file too small to be a valid WAV")
	}
	if string(data[0:4]) != "RIFF" {
		return 0, nil, fmt.Errorf("not a valid RIFF file")
	}
	if string(data[8:12]) != "WAVE" {
		return 0, nil, fmt.Errorf("not a valid WAVE file")
	}

	var (
		channels      uint16
		bitsPerSample uint16
		rate          uint32
		dataStart     int
		dataSize      int
	)

	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && pos+8+16 <= len(data) {
				channels = binary.LittleEndian.Uint16(data[pos+10 : pos+12])
				rate = binary.LittleEndian.Uint32(data[pos+12 : pos+16])
				bitsPerSample = binary.LittleEndian.Uint16(data[pos+22 : pos+24])
			}
		case "data":
			dataStart = pos + 8
			dataSize = chunkSize
		}

		pos += 8 + chunkSize
		if chunkSize%2 != 0 {
			pos++
		}
	}

	if rate == 0 || dataStart == 0 {
		return 0, nil, fmt.Errorf("missing required WAV chunks")
	}
	if channels != 1 || bitsPerSample != 16 {
		return 0, nil, fmt.Errorf("unsupported WAV format: %d channels, %d bits", channels, bitsPerSample)
	}
	if dataStart+dataSize > len(data) {
		dataSize = len(data) - dataStart
	}
	dataSize -= dataSize % BytesPerSample

	return int(rate), data[dataStart : dataStart+dataSize], nil
}

// LoadWAV reads a 16-bit mono WAV file from disk
func LoadWAV(path string) (sampleRate int, pcm []byte, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read WAV file: %w", err)
	}
	sampleRate, pcm, err = ParseWAV(data)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return sampleRate, pcm, nil
}

// EncodeWAV wraps 16-bit mono PCM in a canonical 44-byte WAV header
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	out := make([]byte, wavHeaderSize+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], 1) // mono
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*BytesPerSample))
	binary.LittleEndian.PutUint16(out[32:34], BytesPerSample)
	binary.LittleEndian.PutUint16(out[34:36], 16)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}
