package images

import (
	"bytes"
	"image"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	"github.com/pkg/errors"
	_ "golang.org/x/image/webp"
)

// Reencode decodes an inline image in whatever format the provider
// served it and re-encodes it as JPEG, so downstream output never has
// to care about source formats.
func Reencode(b []byte) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode image")
	}

	if format == "jpeg" {
		return b, nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, errors.Wrap(err, "failed to encode image")
	}

	return buf.Bytes(), nil
}
