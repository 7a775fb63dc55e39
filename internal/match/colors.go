package match

import (
	"math"
	"strconv"
)

// ContrastColor returns black or white, whichever reads better against
// the given #RRGGBB background per the WCAG 2.1 contrast ratio. Used as
// the fallback when a match is created without foreground colors.
func ContrastColor(hexBG string) string {
	if len(hexBG) > 0 && hexBG[0] == '#' {
		hexBG = hexBG[1:]
	}
	if len(hexBG) != 6 {
		return "#FFFFFF"
	}
	var rgb [3]float64
	for i := 0; i < 3; i++ {
		n, err := strconv.ParseUint(hexBG[i*2:i*2+2], 16, 8)
		if err != nil {
			return "#FFFFFF"
		}
		rgb[i] = float64(n)
	}

	lumBG := relativeLuminance(rgb[0], rgb[1], rgb[2])
	lumWhite := relativeLuminance(255, 255, 255)
	lumBlack := relativeLuminance(0, 0, 0)

	contrastWhite := (lumWhite + 0.05) / (lumBG + 0.05)
	contrastBlack := (lumBG + 0.05) / (lumBlack + 0.05)

	if contrastWhite > contrastBlack {
		return "#FFFFFF"
	}
	return "#000000"
}

func relativeLuminance(r, g, b float64) float64 {
	adjust := func(c float64) float64 {
		c /= 255.0
		if c <= 0.03928 {
			return c / 12.92
		}
		return math.Pow((c+0.055)/1.055, 2.4)
	}
	return 0.2126*adjust(r) + 0.7152*adjust(g) + 0.0722*adjust(b)
}
