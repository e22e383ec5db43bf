package xpath

import (
	"regexp"
	"strconv"

	"github.com/devicelab-dev/xpath-healer/pkg/core"
)

// androidBounds matches the UIAutomator bounds attribute "[x1,y1][x2,y2]".
var androidBounds = regexp.MustCompile(`^\s*\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]\s*$`)

// ExtractBounds reads platform geometry from a node. Android nodes carry a
// single bounds attribute, iOS nodes carry discrete x, y, width and height.
// It returns nil when the node has no usable geometry.
func ExtractBounds(n Node, platform core.Platform) *core.Bounds {
	switch platform {
	case core.PlatformAndroid:
		return androidNodeBounds(n)
	case core.PlatformIOS:
		return iosNodeBounds(n)
	default:
		if b := androidNodeBounds(n); b != nil {
			return b
		}
		return iosNodeBounds(n)
	}
}

func androidNodeBounds(n Node) *core.Bounds {
	raw, ok := n.Attr("bounds")
	if !ok {
		return nil
	}
	b, ok := ParseAndroidBounds(raw)
	if !ok {
		return nil
	}
	return &b
}

// ParseAndroidBounds parses "[x1,y1][x2,y2]".
func ParseAndroidBounds(s string) (core.Bounds, bool) {
	m := androidBounds.FindStringSubmatch(s)
	if m == nil {
		return core.Bounds{}, false
	}
	x1, _ := strconv.Atoi(m[1])
	y1, _ := strconv.Atoi(m[2])
	x2, _ := strconv.Atoi(m[3])
	y2, _ := strconv.Atoi(m[4])
	return core.Bounds{X1: x1, Y1: y1, X2: x2, Y2: y2}, true
}

func iosNodeBounds(n Node) *core.Bounds {
	var vals [4]int
	for i, name := range [...]string{"x", "y", "width", "height"} {
		raw, ok := n.Attr(name)
		if !ok {
			return nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil
		}
		vals[i] = int(v)
	}
	b := core.BoundsFromRect(vals[0], vals[1], vals[2], vals[3])
	return &b
}
