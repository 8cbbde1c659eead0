package inference

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/book-expert/inference-studio/internal/core"
)

// payload is a fully buffered multipart/form-data request body.
type payload struct {
	body        *bytes.Buffer
	contentType string
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// newFilePayload writes every asset under the same field name. A single asset
// uses "file", a batch repeats "files".
func newFilePayload(field string, assets []core.Asset) (*payload, error) {
	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	for _, asset := range assets {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(field), quoteEscaper.Replace(asset.Name)))

		contentType := asset.ContentType
		if contentType == "" {
			contentType = contentTypeBinary
		}

		header.Set(headerContentType, contentType)

		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("failed to create form file %q: %w", asset.Name, err)
		}

		_, err = part.Write(asset.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to copy file data for %q: %w", asset.Name, err)
		}
	}

	closeErr := writer.Close()
	if closeErr != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", closeErr)
	}

	return &payload{body: &buf, contentType: writer.FormDataContentType()}, nil
}

func newTextPayload(field, text string) (*payload, error) {
	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	err := writer.WriteField(field, text)
	if err != nil {
		return nil, fmt.Errorf("failed to write %s field: %w", field, err)
	}

	closeErr := writer.Close()
	if closeErr != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", closeErr)
	}

	return &payload{body: &buf, contentType: writer.FormDataContentType()}, nil
}
