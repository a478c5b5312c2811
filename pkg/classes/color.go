package classes

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// Color is an 8-bit RGB display color, serialized as "#rrggbb"
type Color struct {
	R, G, B uint8
}

func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func (c Color) String() string {
	return c.Hex()
}

func ParseColor(s string) (Color, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return Color{}, fmt.Errorf("invalid color '%v', expected #rrggbb", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("invalid color '%v': %w", s, err)
	}
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.Hex()), nil
}

func (c *Color) UnmarshalText(b []byte) error {
	v, err := ParseColor(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// RandomColor picks a saturated, fairly dark color, so that white label
// text stays readable on top of it.
func RandomColor() Color {
	h := rand.IntN(360)
	s := 180 + rand.IntN(76)
	l := 50 + rand.IntN(71)
	return FromHSL(h, s, l)
}

// FromHSL converts hue in [0,360), saturation and lightness in [0,255] to RGB.
func FromHSL(h, s, l int) Color {
	hf := float64(h%360) / 360
	sf := float64(s) / 255
	lf := float64(l) / 255
	if sf == 0 {
		v := uint8(lf*255 + 0.5)
		return Color{v, v, v}
	}
	var q float64
	if lf < 0.5 {
		q = lf * (1 + sf)
	} else {
		q = lf + sf - lf*sf
	}
	p := 2*lf - q
	return Color{
		R: uint8(hueToRGB(p, q, hf+1.0/3)*255 + 0.5),
		G: uint8(hueToRGB(p, q, hf)*255 + 0.5),
		B: uint8(hueToRGB(p, q, hf-1.0/3)*255 + 0.5),
	}
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 1.0/2:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	}
	return p
}
