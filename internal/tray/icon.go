package tray

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"github.com/sigmaauth/sigma-launcher/internal/supervisor"
)

const iconSize = 32

var statusColors = map[supervisor.Status]color.NRGBA{
	supervisor.StatusStarting: {R: 0xf5, G: 0xa6, B: 0x23, A: 0xff},
	supervisor.StatusRunning:  {R: 0x2e, G: 0xb8, B: 0x5c, A: 0xff},
	supervisor.StatusError:    {R: 0xd9, G: 0x3b, B: 0x3b, A: 0xff},
}

// StatusIcon returns a PNG dot in the status colour.
func StatusIcon(s supervisor.Status) []byte {
	c, ok := statusColors[s]
	if !ok {
		c = statusColors[supervisor.StatusStarting]
	}

	img := image.NewNRGBA(image.Rect(0, 0, iconSize, iconSize))
	center := float64(iconSize-1) / 2
	radius := float64(iconSize)/2 - 2
	for y := 0; y < iconSize; y++ {
		for x := 0; x < iconSize; x++ {
			dx, dy := float64(x)-center, float64(y)-center
			if dx*dx+dy*dy <= radius*radius {
				img.SetNRGBA(x, y, c)
			}
		}
	}

	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
