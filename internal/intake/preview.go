package intake

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/gif" // register decoders for previews
	"image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

const (
	previewMaxSide = 320
	previewQuality = 80
	previewMIME    = "image/jpeg"
)

// previewURL renders a thumbnail data URL. Formats the standard decoders do not
// know are embedded as-is.
func previewURL(contentType string, data []byte) string {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return dataURL(contentType, data)
	}

	thumbnail := resize.Thumbnail(previewMaxSide, previewMaxSide, img, resize.Lanczos3)

	var buf bytes.Buffer

	err = jpeg.Encode(&buf, thumbnail, &jpeg.Options{Quality: previewQuality})
	if err != nil {
		return dataURL(contentType, data)
	}

	return dataURL(previewMIME, buf.Bytes())
}

func dataURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
