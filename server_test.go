package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"
)

func TestReceiptIDParam(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		wantID int64
		wantOK bool
	}{
		{"numeric", "42", 42, true},
		{"zero", "0", 0, true},
		{"letters", "abc", 0, false},
		{"empty", "", 0, false},
		{"float", "1.5", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := httprouter.Params{{Key: "id", Value: tt.id}}
			id, jsonErr := receiptIDParam(ps)
			if tt.wantOK {
				if jsonErr != nil {
					t.Fatalf("receiptIDParam(%q) error = %v, want nil", tt.id, jsonErr)
				}
				if id != tt.wantID {
					t.Errorf("receiptIDParam(%q) = %d, want %d", tt.id, id, tt.wantID)
				}
			} else {
				if jsonErr == nil {
					t.Fatalf("receiptIDParam(%q) error = nil, want error", tt.id)
				}
				if jsonErr.Code != 400 || jsonErr.Error != "WRONG_RECEIPT_ID" {
					t.Errorf("receiptIDParam(%q) error = %+v, want code 400 WRONG_RECEIPT_ID", tt.id, jsonErr)
				}
			}
		})
	}
}

func TestHandleAPIDownloadPdfWrongID(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/receipt/nope/pdf", nil)
	ps := httprouter.Params{{Key: "id", Value: "nope"}}

	if err := HandleAPIDownloadPdf(rec, req, ps); err != nil {
		t.Fatalf("HandleAPIDownloadPdf() error = %v, want nil", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var body struct {
		Error       string `json:"error"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if body.Error != "WRONG_RECEIPT_ID" {
		t.Errorf("body.Error = %q, want %q", body.Error, "WRONG_RECEIPT_ID")
	}
	if body.Description != "nope" {
		t.Errorf("body.Description = %q, want %q", body.Description, "nope")
	}
}
