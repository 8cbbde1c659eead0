// Package intake validates user uploads and text before they reach a form.
//
// Nothing here touches the network: previews are rendered locally as data URLs.
package intake

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/book-expert/inference-studio/internal/core"
	"github.com/gabriel-vasile/mimetype"
	"github.com/samber/lo"
)

const (
	imageTypePrefix    = "image/"
	contentTypeBinary  = "application/octet-stream"
	displayNameRunes   = 15
	displayNameEllipse = "..."
)

// Static errors.
var (
	ErrUnsupportedType = errors.New("only image files are accepted")
	ErrEmptyFile       = errors.New("file is empty")
)

// UploadedAsset is an accepted image together with its local preview.
type UploadedAsset struct {
	core.Asset

	PreviewURL string
}

// Rejection names a file that intake refused and why.
type Rejection struct {
	Name string
	Err  error
}

// Accept admits data only if it is an image. A declared content type, when
// present, must agree; the sniffed type decides.
func Accept(name, declaredType string, data []byte) (core.Asset, error) {
	if len(data) == 0 {
		return core.Asset{}, fmt.Errorf("%w: %s", ErrEmptyFile, name)
	}

	if !declaredImage(declaredType) {
		return core.Asset{}, fmt.Errorf("%w: %s is %s", ErrUnsupportedType, name, declaredType)
	}

	sniffed := mimetype.Detect(data)
	if !strings.HasPrefix(sniffed.String(), imageTypePrefix) {
		return core.Asset{}, fmt.Errorf("%w: %s looks like %s", ErrUnsupportedType, name, sniffed.String())
	}

	return core.Asset{
		Name:        name,
		ContentType: sniffed.String(),
		Data:        data,
	}, nil
}

// NewAsset accepts an image for a form and renders its preview.
func NewAsset(name, declaredType string, data []byte) (UploadedAsset, error) {
	asset, err := Accept(name, declaredType, data)
	if err != nil {
		return UploadedAsset{}, err
	}

	return UploadedAsset{
		Asset:      asset,
		PreviewURL: previewURL(asset.ContentType, asset.Data),
	}, nil
}

// FilterAssets keeps the images of a multi-file selection and reports the rest.
func FilterAssets(candidates []core.Asset) ([]UploadedAsset, []Rejection) {
	accepted := make([]UploadedAsset, 0, len(candidates))

	var rejected []Rejection

	for _, candidate := range candidates {
		asset, err := NewAsset(candidate.Name, candidate.ContentType, candidate.Data)
		if err != nil {
			rejected = append(rejected, Rejection{Name: candidate.Name, Err: err})

			continue
		}

		accepted = append(accepted, asset)
	}

	return accepted, rejected
}

// ReadFileHeader loads an uploaded multipart file into memory.
func ReadFileHeader(header *multipart.FileHeader) (core.Asset, error) {
	file, err := header.Open()
	if err != nil {
		return core.Asset{}, fmt.Errorf("failed to open upload %q: %w", header.Filename, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return core.Asset{}, fmt.Errorf("failed to read upload %q: %w", header.Filename, err)
	}

	return core.Asset{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// ReadFileHeaders loads every uploaded file of a field.
func ReadFileHeaders(headers []*multipart.FileHeader) ([]core.Asset, error) {
	assets := make([]core.Asset, 0, len(headers))

	for _, header := range headers {
		asset, err := ReadFileHeader(header)
		if err != nil {
			return nil, err
		}

		assets = append(assets, asset)
	}

	return assets, nil
}

// DisplayName shortens long file names for preview tiles.
func DisplayName(name string) string {
	runes := []rune(name)
	if len(runes) <= displayNameRunes {
		return name
	}

	return string(runes[:displayNameRunes]) + displayNameEllipse
}

// CoreAssets strips previews for transport.
func CoreAssets(assets []UploadedAsset) []core.Asset {
	return lo.Map(assets, func(a UploadedAsset, _ int) core.Asset { return a.Asset })
}

func declaredImage(declaredType string) bool {
	if declaredType == "" {
		return true
	}

	mediaType, _, err := mime.ParseMediaType(declaredType)
	if err != nil {
		return false
	}

	return strings.HasPrefix(mediaType, imageTypePrefix) || mediaType == contentTypeBinary
}
