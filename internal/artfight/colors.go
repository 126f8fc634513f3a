package artfight

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// rgb is a parsed CSS color.
type rgb struct {
	r, g, b float64
}

var rgbFuncRe = regexp.MustCompile(`(?i)^rgba?\(\s*(\d+)\s*,\s*(\d+)\s*,\s*(\d+)`)

// parseColor accepts #RGB, #RRGGBB and rgb()/rgba() notation.
func parseColor(s string) (rgb, bool) {
	s = strings.TrimSpace(s)

	if m := rgbFuncRe.FindStringSubmatch(s); m != nil {
		r, _ := strconv.Atoi(m[1])
		g, _ := strconv.Atoi(m[2])
		b, _ := strconv.Atoi(m[3])
		return rgb{float64(r), float64(g), float64(b)}, true
	}

	if !strings.HasPrefix(s, "#") {
		return rgb{}, false
	}
	hex := s[1:]
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return rgb{}, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return rgb{}, false
	}
	return rgb{
		r: float64((v >> 16) & 0xff),
		g: float64((v >> 8) & 0xff),
		b: float64(v & 0xff),
	}, true
}

// canonical renders a color as lowercase #rrggbb for exact comparison.
func (c rgb) canonical() string {
	return fmt.Sprintf("#%02x%02x%02x", int(c.r), int(c.g), int(c.b))
}

// distance is the Euclidean distance in RGB space, used for the
// nearest-neighbor fallback when anti-aliasing or theme tweaks shift a bar
// color slightly off the configured reference.
func (c rgb) distance(o rgb) float64 {
	dr, dg, db := c.r-o.r, c.g-o.g, c.b-o.b
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

// matchTeam resolves a bar color against the two reference colors using the
// ranked strategy: exact match first, then nearest neighbor within
// tolerance. Returns 0 when the color matches neither team.
func matchTeam(barColor string, team1, team2 rgb, tolerance float64) int {
	c, ok := parseColor(barColor)
	if !ok {
		return 0
	}

	if c.canonical() == team1.canonical() {
		return 1
	}
	if c.canonical() == team2.canonical() {
		return 2
	}

	d1, d2 := c.distance(team1), c.distance(team2)
	if d1 <= d2 && d1 <= tolerance {
		return 1
	}
	if d2 < d1 && d2 <= tolerance {
		return 2
	}
	return 0
}
