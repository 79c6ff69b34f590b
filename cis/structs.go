package cis

import (
	"strconv"
	"time"

	"github.com/ansel1/merry"
)

// Environment selects the CIS endpoint the requests are sent to.
type Environment string

const (
	EnvEduc Environment = "educ"
	EnvProd Environment = "prod"
)

// UserSettings carries the tax identity and crypto material of one
// issuing business. Immutable, supplied by the caller per submission.
type UserSettings struct {
	Pin                   string
	UseVat                bool
	ReceiptNumberOnDevice bool
	Environment           Environment
	CertP12               []byte
	CertPassword          string
}

// PosSettings identifies a point-of-sale device within a premise.
type PosSettings struct {
	PremiseID string
	PosID     string
}

// PosUser is the operator issuing the receipt.
type PosUser struct {
	OperatorPin string
}

type Receipt struct {
	Date              time.Time
	ReceiptNumber     string
	TotalAmount       float64
	PaymentMethod     string
	LateFiscalization bool
}

// ComposedReceipt is everything needed to fiscalize one receipt.
type ComposedReceipt struct {
	User    UserSettings
	Pos     PosSettings
	PosUser PosUser
	Receipt Receipt
}

func (c *ComposedReceipt) Validate() error {
	if c.User.Pin == "" {
		return merry.New("user settings: missing pin")
	}
	if len(c.User.CertP12) == 0 {
		return merry.New("user settings: missing certificate")
	}
	if c.User.Environment != EnvEduc && c.User.Environment != EnvProd {
		return merry.Errorf("user settings: wrong environment: %s", c.User.Environment)
	}
	if c.Pos.PremiseID == "" || c.Pos.PosID == "" {
		return merry.New("pos settings: missing premise or pos id")
	}
	if c.Receipt.ReceiptNumber == "" {
		return merry.New("receipt: missing receipt number")
	}
	if c.Receipt.Date.IsZero() {
		return merry.New("receipt: missing date")
	}
	return nil
}

// ResponseError is one error entry extracted from a CIS response.
// Code is empty when the response had to be scanned with the legacy
// tag regexp instead of being parsed as XML.
type ResponseError struct {
	Message string `json:"errorMessage"`
	Code    string `json:"errorCode,omitempty"`
}

// ReceiptRequestResult is the outcome of one submission. ZKI is always
// set (it is computed before transmission); JIR only when Success.
type ReceiptRequestResult struct {
	Success       bool            `json:"success"`
	DateTime      time.Time       `json:"dateTime"`
	ReceiptNumber string          `json:"receiptNumber"`
	JIR           string          `json:"jir,omitempty"`
	ZKI           string          `json:"zki"`
	ResponseText  string          `json:"responseText"`
	Errors        []ResponseError `json:"errors,omitempty"`
}

// SoapDateTime formats t the way the CIS protocol expects it,
// dd.MM.yyyyTHH:mm:ss. The exact format is a wire contract.
func SoapDateTime(t time.Time) string {
	return t.Format("02.01.2006T15:04:05")
}

// SoapAmount renders an amount with exactly two decimals, as the
// IznosUkupno element requires.
func SoapAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

func (c *ComposedReceipt) sequenceMark() string {
	if c.User.ReceiptNumberOnDevice {
		return "N"
	}
	return "P"
}

func (c *ComposedReceipt) paymentMethod() string {
	if c.Receipt.PaymentMethod == "" {
		return "K"
	}
	return c.Receipt.PaymentMethod
}
