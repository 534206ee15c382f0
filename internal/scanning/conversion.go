package scanning

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// ErrUnsupportedFormat is returned for uploads that are not an image or PDF.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// receiptScanPrompt is the shared prompt used by all LLM providers for scanning receipts
const receiptScanPrompt = `First decide whether this image is a receipt or bill from a restaurant, store, or other business.
If it is NOT a receipt or bill (a random photo, a document, a meme), respond with exactly:
{"isReceipt": false}

If it IS a receipt or bill, extract every purchased line item and return ONLY valid JSON in this exact format:
{
  "isReceipt": true,
  "items": [
    {
      "description": "Item Name",
      "price": 8.99,
      "originalPrice": 10.99,
      "discount": 2.00
    }
  ],
  "subtotal": 8.99,
  "tax": 1.00,
  "tip": 2.00,
  "total": 11.99
}

Rules:
1. Only process images that are clearly receipts or bills with itemized purchases.
2. Extract all line items. If an item has a quantity, report the line total as its price.
3. If an item has a discount, coupon, or savings line below it:
   - "price" is the final amount (original price minus discount)
   - "originalPrice" is the listed price
   - "discount" is the discount amount as a positive number
4. If there is no discount, set only "price" and omit "originalPrice" and "discount".
5. Never list discounts as separate items. Merge them into the item they apply to.
6. Ignore "Thank You" and other text that is not an item.
7. Use 0 for tax or tip when the receipt does not show them.
8. All amounts must be numbers, not strings.
9. Do not include any text before or after the JSON and do not use markdown code blocks.`

// pdfToImage renders the first page of a PDF. Multi-page bills are expected
// to be uploaded as several images.
func pdfToImage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// decodeImage decodes HEIC/HEIF (common on iPhones) with the pure Go decoder
// and everything else with the registered standard decoders.
func decodeImage(imageData []byte, mimeType string) (image.Image, error) {
	if isHEIC(imageData, mimeType) {
		img, err := heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if errors.Is(err, image.ErrFormat) {
		return nil, fmt.Errorf("%w: supported formats are JPEG, PNG, GIF, HEIC, HEIF and PDF", ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// isHEIC checks the MIME type and the ISO-BMFF ftyp brand at offset 4.
func isHEIC(data []byte, mimeType string) bool {
	if strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif") {
		return true
	}
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// prepareImageData converts a receipt upload to PNG, the one format sent to
// every model. PNG input without a HEIC signature passes through unchanged.
func prepareImageData(imageData []byte, contentType string) ([]byte, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	if mimeType == "image/png" && !isHEIC(imageData, mimeType) {
		return imageData, nil
	}

	var (
		img image.Image
		err error
	)
	if mimeType == "application/pdf" {
		img, err = pdfToImage(imageData)
	} else {
		img, err = decodeImage(imageData, mimeType)
	}
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}
