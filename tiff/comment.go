package tiff

import (
	"strconv"
	"strings"
)

// ImageJMetadata holds the recognized ImageJ "key=value" extension fields.
type ImageJMetadata struct {
	Images    int
	Channels  int
	Slices    int
	Frames    int
	Unit      string
	FInterval float64
	Spacing   float64
	XOrigin   float64
	YOrigin   float64
	Mode      string
}

// parseImageJComment parses a "\n"-delimited key=value block following an
// "ImageJ=" prefixed IMAGE_DESCRIPTION.
func parseImageJComment(desc string) ImageJMetadata {
	m := ImageJMetadata{Channels: 1, Slices: 1, Frames: 1}
	lines := strings.Split(desc, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "ImageJ=") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		switch k {
		case "images":
			m.Images, _ = strconv.Atoi(v)
		case "channels":
			m.Channels, _ = strconv.Atoi(v)
		case "slices":
			m.Slices, _ = strconv.Atoi(v)
		case "frames":
			m.Frames, _ = strconv.Atoi(v)
		case "unit":
			m.Unit = v
		case "finterval":
			m.FInterval, _ = strconv.ParseFloat(v, 64)
		case "spacing":
			m.Spacing, _ = strconv.ParseFloat(v, 64)
		case "xorigin":
			m.XOrigin, _ = strconv.ParseFloat(v, 64)
		case "yorigin":
			m.YOrigin, _ = strconv.ParseFloat(v, 64)
		case "mode":
			m.Mode = v
		}
	}
	return m
}

// isImageJDescription reports whether desc is the ImageJ comment variant.
func isImageJDescription(desc string) bool { return strings.HasPrefix(desc, "ImageJ=") }

// isMetaMorphSoftware reports whether the SOFTWARE tag names MetaMorph.
func isMetaMorphSoftware(software string) bool { return strings.Contains(software, "MetaMorph") }

// MetaMorphMetadata holds the parsed colon-separated key:value pairs of a
// MetaMorph comment, plus the leading free-text description line.
type MetaMorphMetadata struct {
	Description string
	Fields      map[string]string
}

// parseMetaMorphComment parses colon-separated key:value pairs, with the
// first non-colon line treated as a generic description.
func parseMetaMorphComment(desc string) MetaMorphMetadata {
	m := MetaMorphMetadata{Fields: make(map[string]string)}
	lines := strings.Split(desc, "\n")
	first := true
	for _, line := range lines {
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			if first {
				m.Description = line
			}
			first = false
			continue
		}
		m.Fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
		first = false
	}
	return m
}

// parseGenericComment parses generic INI-like key=value lines, skipping
// [section] headers.
func parseGenericComment(desc string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(desc, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "[") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

// axisLengthsFromImageJ derives (channels, slices, frames) axis lengths
// from ImageJ metadata, tie-breaking in favor of a multichannel layout
// when c*z*t != ifdCount.
func axisLengthsFromImageJ(m ImageJMetadata, ifdCount int) (c, z, t int) {
	c, z, t = m.Channels, m.Slices, m.Frames
	if c*z*t == ifdCount {
		return
	}
	// Tie-break: favor multichannel -- prefer attributing any discrepancy
	// to the channel axis rather than Z/T, since ImageJ's own stack writer
	// is most likely to have collapsed channels when truncating.
	if z*t > 0 && ifdCount%(z*t) == 0 {
		c = ifdCount / (z * t)
		return
	}
	c, z, t = ifdCount, 1, 1
	return
}
