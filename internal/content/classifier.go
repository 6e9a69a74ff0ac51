// Package content decides what a file's bytes are and turns supported
// binary formats (PDF, DOCX, images) into indexable text or payloads.
package content

// classifySampleSize is how much of the head of a buffer is examined.
const classifySampleSize = 8 * 1024

// controlCharThreshold is the fraction of problematic control characters
// above which a sample is considered binary.
const controlCharThreshold = 0.10

// IsText reports whether a byte buffer holds textual content.
// Only the first 8 KiB is examined:
//   - any 0x00 byte means binary;
//   - more than 10% problematic control characters means binary;
//   - UTF-8-encoded surrogate code units mean binary;
//   - everything else, including empty input, is textual.
func IsText(buf []byte) bool {
	sample := buf
	if len(sample) > classifySampleSize {
		sample = sample[:classifySampleSize]
	}
	if len(sample) == 0 {
		return true
	}

	controls := 0
	for i := 0; i < len(sample); i++ {
		b := sample[i]
		if b == 0x00 {
			return false
		}
		// Problematic controls are 0x01-0x08 and 0x0E-0x1F.
		// Tab, LF, VT, FF and CR are ordinary text.
		if b <= 0x08 || (b >= 0x0E && b <= 0x1F) {
			controls++
		}
		// UTF-8 encodes surrogate code points (U+D800-U+DFFF) as
		// ED A0..BF xx. Valid text never contains them.
		if b == 0xED && i+1 < len(sample) && sample[i+1] >= 0xA0 && sample[i+1] <= 0xBF {
			return false
		}
	}

	return float64(controls)/float64(len(sample)) <= controlCharThreshold
}
