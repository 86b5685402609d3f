package extraction

import (
	"bytes"
	"net/http"

	apperrors "github.com/inspire-id/idvault/internal/errors"

	"github.com/disintegration/imaging"
)

// DefaultMaxImageDimension bounds the longest side sent to a vendor
const DefaultMaxImageDimension = 2048

const jpegQuality = 90

// Preprocess normalizes an upload before it leaves the process. Raster images
// are auto-oriented from EXIF, downscaled to fit maxDimension and re-encoded
// as JPEG, which also drops embedded metadata. Payloads that do not decode
// (PDF, HEIC) pass through untouched.
func Preprocess(img Image, maxDimension int) (Image, error) {
	if len(img.Data) == 0 {
		return Image{}, apperrors.New(apperrors.ErrInvalidImage.Code, "image is empty")
	}
	if img.MimeType == "" || img.MimeType == "application/octet-stream" {
		img.MimeType = http.DetectContentType(img.Data)
	}

	src, err := imaging.Decode(bytes.NewReader(img.Data), imaging.AutoOrientation(true))
	if err != nil {
		return img, nil
	}

	b := src.Bounds()
	if maxDimension > 0 && (b.Dx() > maxDimension || b.Dy() > maxDimension) {
		src = imaging.Fit(src, maxDimension, maxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, src, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return img, nil
	}
	img.Data = buf.Bytes()
	img.MimeType = "image/jpeg"
	return img, nil
}
