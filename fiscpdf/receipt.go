package fiscpdf

import (
	"receipt_fiscalizer/receipts"
	"strconv"

	"github.com/ansel1/merry"
	"github.com/rs/zerolog/log"
)

const (
	margin     = 40.0
	usableW    = PageWidth - 2*margin
	qrBoxSize  = 90.0
	lineH      = 14.0
	smallLineH = 12.0
)

var (
	headerColor = Color{0.13, 0.37, 0.23}
	labelGray   = Color{0.45, 0.45, 0.45}
	borderGray  = Color{0.80, 0.80, 0.80}
	totalBg     = Color{0.93, 0.96, 0.93}
	alertRed    = Color{0.75, 0.10, 0.10}
)

// table column proportions: description, quantity, unit price, total
var itemCols = [4]float64{0.45, 0.15, 0.20, 0.20}

// BuildReceiptPdf renders the fixed single-page receipt layout and
// returns the finished PDF bytes.
func BuildReceiptPdf(rec *receipts.ReceiptForPdf) ([]byte, error) {
	doc := NewDocument()

	top := drawHeader(doc, rec)
	top = drawParties(doc, rec, top)
	top = drawPaymentDetails(doc, rec, top)
	if len(rec.Items) > 0 {
		top = drawItemsTable(doc, rec, top)
	}
	top = drawSummary(doc, rec, top)
	drawFiscalizationBlock(doc, rec, top)

	data, err := doc.Bytes()
	if err != nil {
		return nil, merry.Wrap(err)
	}
	return data, nil
}

func drawHeader(doc *Document, rec *receipts.ReceiptForPdf) float64 {
	bandH := 70.0
	doc.Rect(0, 0, PageWidth, bandH, headerColor)
	doc.Text("RACUN", margin, 14, 22, true, White)
	doc.Text("Broj: "+rec.ReceiptNumber, margin, 42, 11, false, White)
	dateStr := rec.IssuedAt.Format("02.01.2006. 15:04")
	doc.Text(dateStr, PageWidth-margin-0.5*11*float64(len(dateStr)), 42, 11, false, White)
	return bandH + 20
}

// drawParties renders the issuer and customer columns side by side.
// Each column wraps independently; the next block starts below the
// taller one.
func drawParties(doc *Document, rec *receipts.ReceiptForPdf, top float64) float64 {
	colW := usableW/2 - 10
	leftX := margin
	rightX := margin + usableW/2 + 10

	doc.Text("IZDAVATELJ", leftX, top, 9, true, labelGray)
	doc.Text("KUPAC", rightX, top, 9, true, labelGray)
	top += lineH

	leftTop := drawParty(doc, rec.Issuer, leftX, top, colW)
	rightTop := drawParty(doc, rec.Customer, rightX, top, colW)

	if rightTop > leftTop {
		leftTop = rightTop
	}
	return leftTop + 12
}

func drawParty(doc *Document, p receipts.Party, x, top, colW float64) float64 {
	top = doc.TextWrapped(p.Name, x, top, colW, 11, lineH, true, Black)
	if p.Address != "" {
		top = doc.TextWrapped(p.Address, x, top, colW, 10, smallLineH, false, Black)
	}
	if p.City != "" {
		top = doc.TextWrapped(p.City, x, top, colW, 10, smallLineH, false, Black)
	}
	if p.Pin != "" {
		top = doc.TextWrapped("OIB: "+p.Pin, x, top, colW, 10, smallLineH, false, Black)
	}
	return top
}

func drawPaymentDetails(doc *Document, rec *receipts.ReceiptForPdf, top float64) float64 {
	doc.Line(margin, top, margin+usableW, top, 0.5, borderGray)
	top += 10
	doc.Text("Nacin placanja: "+paymentMethodLabel(rec.PaymentMethod), margin, top, 10, false, Black)
	return top + lineH + 6
}

func drawItemsTable(doc *Document, rec *receipts.ReceiptForPdf, top float64) float64 {
	headers := [4]string{"Stavka", "Kol.", "Cijena", "Iznos"}
	x := margin
	for i, h := range headers {
		doc.Text(h, x, top, 9, true, labelGray)
		x += itemCols[i] * usableW
	}
	top += lineH
	doc.Line(margin, top-4, margin+usableW, top-4, 0.7, Black)

	for _, item := range rec.Items {
		x = margin
		doc.Text(item.Description, x, top, 10, false, Black)
		x += itemCols[0] * usableW
		doc.Text(formatQuantity(item.Quantity), x, top, 10, false, Black)
		x += itemCols[1] * usableW
		doc.Text(money(item.UnitPrice, rec.Currency), x, top, 10, false, Black)
		x += itemCols[2] * usableW
		doc.Text(money(item.Total, rec.Currency), x, top, 10, false, Black)
		top += lineH
		doc.Line(margin, top-4, margin+usableW, top-4, 0.3, borderGray)
	}
	return top + 8
}

func drawSummary(doc *Document, rec *receipts.ReceiptForPdf, top float64) float64 {
	labelX := margin + usableW*0.55
	valueX := margin + usableW*0.80

	doc.Text("Osnovica:", labelX, top, 10, false, Black)
	doc.Text(money(rec.Subtotal, rec.Currency), valueX, top, 10, false, Black)
	top += lineH
	doc.Text("PDV:", labelX, top, 10, false, Black)
	doc.Text(money(rec.TaxAmount, rec.Currency), valueX, top, 10, false, Black)
	top += lineH

	doc.Rect(labelX-6, top-3, usableW*0.45+6, 20, totalBg)
	doc.Text("UKUPNO:", labelX, top, 12, true, Black)
	doc.Text(money(rec.TotalAmount, rec.Currency), valueX, top, 12, true, Black)
	return top + 32
}

// drawFiscalizationBlock renders the JIR/ZKI pair, the fiscal status
// and, when a verification payload exists, the QR code anchored to the
// bottom-right of the block.
func drawFiscalizationBlock(doc *Document, rec *receipts.ReceiptForPdf, top float64) {
	doc.Line(margin, top, margin+usableW, top, 0.5, borderGray)
	top += 10
	blockTop := top

	textW := usableW - qrBoxSize - 20

	doc.Text("FISKALIZACIJA", margin, top, 9, true, labelGray)
	top += lineH
	if rec.JIR != "" {
		top = doc.TextWrapped("JIR: "+rec.JIR, margin, top, textW, 9, smallLineH, false, Black)
	}
	if rec.ZKI != "" {
		top = doc.TextWrapped("ZKI: "+rec.ZKI, margin, top, textW, 9, smallLineH, false, Black)
	}
	top = doc.TextWrapped("Status: "+cisStatusLabel(rec.CisStatus), margin, top, textW, 9, smallLineH, false, Black)
	if rec.CisErrorMessage != "" {
		top = doc.TextWrapped(rec.CisErrorMessage, margin, top, textW, 9, smallLineH, false, alertRed)
	}

	payload := QrPayload(rec)
	if payload == "" {
		return
	}
	img, err := generateQrImage(payload)
	if err != nil {
		// the QR is auxiliary, the receipt renders without it
		log.Warn().Err(err).Msg("qr image generation failed")
		return
	}
	qrTop := blockTop
	if top-qrBoxSize > blockTop {
		qrTop = top - qrBoxSize
	}
	doc.PlaceImage(img, margin+usableW-qrBoxSize, qrTop, qrBoxSize, qrBoxSize)
}

func money(v float64, currency string) string {
	if currency == "" {
		currency = "EUR"
	}
	return strconv.FormatFloat(v, 'f', 2, 64) + " " + currency
}

func formatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func cisStatusLabel(status receipts.CisStatus) string {
	switch status {
	case receipts.CisStatusConfirmed:
		return "Fiskaliziran"
	case receipts.CisStatusFailed:
		return "Neuspjesna fiskalizacija"
	default:
		return "U obradi"
	}
}

func paymentMethodLabel(code string) string {
	switch code {
	case "G":
		return "Gotovina"
	case "K":
		return "Kartica"
	case "T":
		return "Transakcijski racun"
	case "O":
		return "Ostalo"
	default:
		return code
	}
}
