package cis

import (
	"testing"
	"time"
)

func TestSoapDateTime(t *testing.T) {
	tests := []struct {
		date time.Time
		want string
	}{
		{time.Date(2024, 3, 9, 12, 34, 56, 0, time.UTC), "09.03.2024T12:34:56"},
		{time.Date(2025, 1, 1, 0, 0, 5, 0, time.UTC), "01.01.2025T00:00:05"},
		{time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC), "31.12.2024T23:59:59"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := SoapDateTime(tt.date); got != tt.want {
				t.Errorf("SoapDateTime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSoapAmount(t *testing.T) {
	tests := []struct {
		amount float64
		want   string
	}{
		{1600.12, "1600.12"},
		{100, "100.00"},
		{1600.1, "1600.10"},
		{0, "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := SoapAmount(tt.amount); got != tt.want {
				t.Errorf("SoapAmount() = %v, want %v", got, tt.want)
			}
		})
	}
}

func validComposed() ComposedReceipt {
	return ComposedReceipt{
		User: UserSettings{
			Pin:         "12345678901",
			Environment: EnvEduc,
			CertP12:     []byte{1, 2, 3},
		},
		Pos: PosSettings{PremiseID: "PP1", PosID: "1"},
		Receipt: Receipt{
			Date:          time.Date(2024, 3, 9, 12, 34, 56, 0, time.UTC),
			ReceiptNumber: "17",
			TotalAmount:   10,
		},
	}
}

func TestComposedReceiptValidate(t *testing.T) {
	tests := []struct {
		name    string
		change  func(c *ComposedReceipt)
		wantErr bool
	}{
		{"valid", func(c *ComposedReceipt) {}, false},
		{"missing pin", func(c *ComposedReceipt) { c.User.Pin = "" }, true},
		{"missing certificate", func(c *ComposedReceipt) { c.User.CertP12 = nil }, true},
		{"wrong environment", func(c *ComposedReceipt) { c.User.Environment = "staging" }, true},
		{"missing premise", func(c *ComposedReceipt) { c.Pos.PremiseID = "" }, true},
		{"missing pos", func(c *ComposedReceipt) { c.Pos.PosID = "" }, true},
		{"missing receipt number", func(c *ComposedReceipt) { c.Receipt.ReceiptNumber = "" }, true},
		{"missing date", func(c *ComposedReceipt) { c.Receipt.Date = time.Time{} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validComposed()
			tt.change(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSequenceMark(t *testing.T) {
	c := validComposed()
	if got := c.sequenceMark(); got != "P" {
		t.Errorf("sequenceMark() = %v, want P", got)
	}
	c.User.ReceiptNumberOnDevice = true
	if got := c.sequenceMark(); got != "N" {
		t.Errorf("sequenceMark() = %v, want N", got)
	}
}

func TestPaymentMethodDefault(t *testing.T) {
	c := validComposed()
	if got := c.paymentMethod(); got != "K" {
		t.Errorf("paymentMethod() = %v, want K", got)
	}
	c.Receipt.PaymentMethod = "G"
	if got := c.paymentMethod(); got != "G" {
		t.Errorf("paymentMethod() = %v, want G", got)
	}
}
