package render

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"
)

// WriteSilence writes a silent 16-bit mono PCM WAV file of the given
// duration at the renderer sample rate. Used as the placeholder artifact
// when rendering fails.
func WriteSilence(path string, d time.Duration) error {
	samples := int(float64(sampleRate) * d.Seconds())
	if samples < 1 {
		samples = 1
	}
	dataLen := samples * 2 // 16-bit mono

	buf := make([]byte, 44+dataLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                // fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)                 // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1)                 // mono
	binary.LittleEndian.PutUint32(buf[24:28], sampleRate)        // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], sampleRate*2)      // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], 2)                 // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16)                // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	// Remaining bytes are zero: silence.

	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("writing placeholder: %w", err)
	}
	return nil
}
