package receipts

import "time"

type CisStatus string

const (
	CisStatusPending   CisStatus = "pending"
	CisStatusConfirmed CisStatus = "confirmed"
	CisStatusFailed    CisStatus = "failed"
)

type PdfStatus string

const (
	PdfStatusNone       PdfStatus = ""
	PdfStatusProcessing PdfStatus = "processing"
	PdfStatusSucceeded  PdfStatus = "succeeded"
	PdfStatusFailed     PdfStatus = "failed"
)

// InvoiceItem is one line of the invoice the receipt was issued for.
type InvoiceItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	Total       float64 `json:"total"`
}

// Party is one side of the invoice (issuer or customer).
type Party struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	City    string `json:"city"`
	Pin     string `json:"pin"`
}

// ReceiptForPdf is a persisted receipt joined with its originating
// invoice and line items, everything the PDF composer needs.
type ReceiptForPdf struct {
	ID            int64     `json:"id"`
	ReceiptNumber string    `json:"receiptNumber"`
	IssuedAt      time.Time `json:"issuedAt"`

	Issuer   Party `json:"issuer"`
	Customer Party `json:"customer"`

	PaymentMethod string        `json:"paymentMethod"`
	Currency      string        `json:"currency"`
	Items         []InvoiceItem `json:"items"`
	Subtotal      float64       `json:"subtotal"`
	TaxAmount     float64       `json:"taxAmount"`
	TotalAmount   float64       `json:"totalAmount"`

	JIR string `json:"jir"`
	ZKI string `json:"zki"`

	CisStatus       CisStatus `json:"cisStatus"`
	CisErrorMessage string    `json:"cisErrorMessage,omitempty"`

	PdfStatus      PdfStatus  `json:"pdfStatus"`
	PdfStoragePath string     `json:"pdfStoragePath,omitempty"`
	PdfGeneratedAt *time.Time `json:"pdfGeneratedAt,omitempty"`
}
