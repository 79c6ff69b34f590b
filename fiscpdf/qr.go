package fiscpdf

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"net/url"
	"receipt_fiscalizer/receipts"

	"github.com/ansel1/merry"
	qrcode "github.com/skip2/go-qrcode"
)

const qrVerifyBaseURL = "https://porezna.gov.hr/rn"

// QrPayload builds the verification URL for a fiscalized receipt. The
// JIR identifies the receipt when present; the ZKI is the fallback for
// receipts the authority has not assigned one yet. An empty result
// means no QR can be produced, which is a valid no-QR outcome rather
// than an error.
func QrPayload(rec *receipts.ReceiptForPdf) string {
	if rec.TotalAmount <= 0 || rec.IssuedAt.IsZero() {
		return ""
	}

	params := url.Values{}
	switch {
	case rec.JIR != "":
		params.Set("jir", rec.JIR)
	case rec.ZKI != "":
		params.Set("zki", rec.ZKI)
	default:
		return ""
	}
	params.Set("datv", rec.IssuedAt.Format("20060102_1504"))
	params.Set("izn", fmt.Sprintf("%d", int64(rec.TotalAmount*100+0.5)))

	return qrVerifyBaseURL + "?" + params.Encode()
}

const qrImageSize = 256

// generateQrImage renders the payload as a QR code PNG and decodes it
// back into raw pixels for embedding. The library draws palette images,
// which the embedder does not take, so the code is re-rendered as
// grayscale first.
func generateQrImage(payload string) (*Image, error) {
	code, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return nil, merry.Wrap(err)
	}

	gray := image.NewGray(image.Rect(0, 0, qrImageSize, qrImageSize))
	draw.Draw(gray, gray.Bounds(), code.Image(qrImageSize), image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, merry.Wrap(err)
	}
	img, err := DecodePng(buf.Bytes())
	if err != nil {
		return nil, merry.Wrap(err)
	}
	return img, nil
}
