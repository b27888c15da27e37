package promptpay

import (
	"fmt"

	"github.com/tablepos/promptpay/qrimage"
)

// BuildQRImage builds the payload and hands it to r for rasterization.
// The image format is whatever r produces.
func BuildQRImage(r qrimage.Renderer, identifier string, kind IdentifierKind, opts Options) ([]byte, error) {
	payload, err := BuildPayload(identifier, kind, opts)
	if err != nil {
		return nil, err
	}

	image, err := r.Render(payload)
	if err != nil {
		return nil, fmt.Errorf("error rendering QR code: %w", err)
	}
	return image, nil
}
