package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// DefaultMaxDimension is the longest side kept when normalizing images.
const DefaultMaxDimension = 512

// NormalizeImage downsizes an image so its longest side is at most maxDim and
// re-encodes it as JPEG. Formats the decoder does not know are returned
// unchanged so the embedding service can try them itself.
func NormalizeImage(data []byte, maxDim int) ([]byte, error) {
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return data, nil
		}
		return nil, fmt.Errorf("media: failed to decode image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() > maxDim || b.Dy() > maxDim {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("media: failed to encode image: %w", err)
	}

	return buf.Bytes(), nil
}
