package audio

import (
	"bytes"
	"encoding/binary"
)

// NewWavBuffer wraps raw mono 16-bit PCM in a minimal RIFF/WAVE
// container, for the batch STT adapters whose vendors want a file-like
// upload rather than raw samples.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	const (
		fmtChunkSize  = 16
		pcmFormat     = 1
		monoChannels  = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * monoChannels * BytesPerSample
	blockAlign := monoChannels * BytesPerSample

	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(fmtChunkSize))
	binary.Write(buf, binary.LittleEndian, uint16(pcmFormat))
	binary.Write(buf, binary.LittleEndian, uint16(monoChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
