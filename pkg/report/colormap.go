package report

import (
	"fmt"
	"math"
	"strconv"
)

// colormapSize is the number of colours in Colormap.
const colormapSize = 256

// divergingAnchors run from green (low scores) through yellow to red (high scores).
var divergingAnchors = []string{
	"#006837", "#1a9850", "#66bd63", "#a6d96a", "#d9ef8b", "#ffffbf",
	"#fee08b", "#fdae61", "#f46d43", "#d73027", "#a50026",
}

// Colormap is a 256-entry green to red lookup table indexed by ColorIndex.
var Colormap = buildColormap(divergingAnchors, colormapSize)

// ColorIndex maps a CVSS score in [0, 10] to a Colormap position.
func ColorIndex(score float64) int {
	if math.IsNaN(score) || score <= 0 {
		return 0
	}
	if score >= 10 {
		return colormapSize - 1
	}
	return int(math.Round(score / 10 * (colormapSize - 1)))
}

func buildColormap(anchors []string, size int) []string {
	rgb := make([][3]float64, len(anchors))
	for i, a := range anchors {
		rgb[i] = parseHex(a)
	}
	out := make([]string, size)
	segments := float64(len(anchors) - 1)
	for i := 0; i < size; i++ {
		pos := float64(i) / float64(size-1) * segments
		seg := int(math.Floor(pos))
		if seg >= len(anchors)-1 {
			seg = len(anchors) - 2
		}
		frac := pos - float64(seg)
		var c [3]int
		for k := 0; k < 3; k++ {
			c[k] = int(math.Round(rgb[seg][k] + (rgb[seg+1][k]-rgb[seg][k])*frac))
		}
		out[i] = fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
	}
	return out
}

func parseHex(s string) [3]float64 {
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		panic(fmt.Sprintf("invalid colour %q", s))
	}
	return [3]float64{float64(v >> 16 & 0xff), float64(v >> 8 & 0xff), float64(v & 0xff)}
}
