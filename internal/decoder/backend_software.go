package decoder

import "errors"

// ErrNoBytes is returned by the software backend when handed an empty
// access unit, standing in for whatever failure a real decoder library
// would report (spec §1, "H.264 decoder library" is an external
// collaborator).
var ErrNoBytes = errors.New("decoder: empty access unit")

// softwareBackend is a placeholder Backend that "decodes" by producing a
// solid-color image sized to the configured target, for tests and any
// deployment without a real decoder library wired in.
type softwareBackend struct {
	width, height int
	format        PixelFormat
}

// NewSoftwareBackend constructs the placeholder backend.
func NewSoftwareBackend() Backend {
	return &softwareBackend{width: 1080, height: 1920, format: PixelFormatRGB24}
}

func (b *softwareBackend) Decode(accessUnit []byte, isKeyframe bool) (Image, error) {
	if len(accessUnit) == 0 {
		return Image{}, ErrNoBytes
	}
	bytesPerPixel := 3
	if b.format == PixelFormatBGRA {
		bytesPerPixel = 4
	}
	img := Image{
		Bytes:  make([]byte, b.width*b.height*bytesPerPixel),
		Width:  b.width,
		Height: b.height,
		Format: b.format,
	}
	return img, nil
}

func (b *softwareBackend) SetTargetSize(width, height int) {
	b.width, b.height = width, height
}

func (b *softwareBackend) SetPixelFormat(pf PixelFormat) {
	b.format = pf
}

func (b *softwareBackend) Close() error { return nil }
