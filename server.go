package main

import (
	"context"
	"encoding/json"
	"net/http"
	"receipt_fiscalizer/cis"
	"receipt_fiscalizer/receipts"
	"receipt_fiscalizer/utils"
	"strconv"
	"time"

	httputils "github.com/3bl3gamer/go-http-utils"
	"github.com/ansel1/merry"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const CtxKeyEnv = ctxKey("env")
const CtxKeyStore = ctxKey("store")
const CtxKeyFiscal = ctxKey("fiscal")
const CtxKeyPdfService = ctxKey("pdfService")
const CtxKeyTrigger = ctxKey("trigger")

// FiscalContext is the per-process configuration of the issuing
// business: identity, POS identifiers, credentials and the CIS client
// built for the selected environment. Constructed once in main, passed
// explicitly, never a package-level singleton.
type FiscalContext struct {
	User    cis.UserSettings
	Pos     cis.PosSettings
	PosUser cis.PosUser
	Issuer  receipts.Party
	Client  *cis.Client
}

type fiscalizeRequest struct {
	ReceiptNumber     string                 `json:"receiptNumber"`
	Date              time.Time              `json:"date"`
	TotalAmount       float64                `json:"totalAmount"`
	PaymentMethod     string                 `json:"paymentMethod"`
	LateFiscalization bool                   `json:"lateFiscalization"`
	Customer          receipts.Party         `json:"customer"`
	Items             []receipts.InvoiceItem `json:"items"`
	Subtotal          float64                `json:"subtotal"`
	TaxAmount         float64                `json:"taxAmount"`
	Currency          string                 `json:"currency"`
}

func (req *fiscalizeRequest) validate() *httputils.JsonError {
	if req.ReceiptNumber == "" {
		return &httputils.JsonError{Code: 400, Error: "MISSING_VALUE_RECEIPT_NUMBER"}
	}
	if req.Date.IsZero() {
		return &httputils.JsonError{Code: 400, Error: "MISSING_VALUE_DATE"}
	}
	if req.TotalAmount <= 0 {
		return &httputils.JsonError{Code: 400, Error: "WRONG_VALUE_TOTAL_AMOUNT", Description: strconv.FormatFloat(req.TotalAmount, 'f', -1, 64)}
	}
	return nil
}

// HandleAPIFiscalize submits one receipt to the CIS and records the
// outcome. An authority rejection is a regular JSON result; a transport
// failure is an error (the submission outcome is indeterminate and the
// operator should retry).
func HandleAPIFiscalize(wr http.ResponseWriter, r *http.Request, ps httprouter.Params) (interface{}, error) {
	var req fiscalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return httputils.JsonError{Code: 400, Error: "WRONG_JSON", Description: err.Error()}, nil
	}
	if jsonErr := req.validate(); jsonErr != nil {
		return jsonErr, nil
	}

	store := r.Context().Value(CtxKeyStore).(*ReceiptStore)
	fiscal := r.Context().Value(CtxKeyFiscal).(*FiscalContext)

	rec := &receipts.ReceiptForPdf{
		ReceiptNumber: req.ReceiptNumber,
		IssuedAt:      req.Date,
		Issuer:        fiscal.Issuer,
		Customer:      req.Customer,
		PaymentMethod: req.PaymentMethod,
		Currency:      req.Currency,
		Items:         req.Items,
		Subtotal:      req.Subtotal,
		TaxAmount:     req.TaxAmount,
		TotalAmount:   req.TotalAmount,
	}
	recID, err := store.SaveSubmission(r.Context(), rec)
	if merry.Is(err, ErrReceiptAlreadyExists) {
		return httputils.JsonError{Code: 400, Error: "ALREADY_EXISTS"}, nil
	} else if err != nil {
		return nil, merry.Wrap(err)
	}

	composed := cis.ComposedReceipt{
		User:    fiscal.User,
		Pos:     fiscal.Pos,
		PosUser: fiscal.PosUser,
		Receipt: cis.Receipt{
			Date:              req.Date,
			ReceiptNumber:     req.ReceiptNumber,
			TotalAmount:       req.TotalAmount,
			PaymentMethod:     req.PaymentMethod,
			LateFiscalization: req.LateFiscalization,
		},
	}
	result, err := fiscal.Client.ReceiptRequest(r.Context(), composed)
	if err != nil {
		return nil, merry.Wrap(err)
	}

	if err := store.SaveFiscalResult(r.Context(), recID, result); err != nil {
		return nil, merry.Wrap(err)
	}

	if result.Success {
		triggerChan := r.Context().Value(CtxKeyTrigger).(chan struct{})
		select {
		case triggerChan <- struct{}{}:
		default:
		}
	}

	return map[string]interface{}{"id": recID, "result": result}, nil
}

var emptyReceipts = []*receipts.ReceiptForPdf{}

func HandleAPIReceiptsList(wr http.ResponseWriter, r *http.Request, ps httprouter.Params) (interface{}, error) {
	store := r.Context().Value(CtxKeyStore).(*ReceiptStore)

	beforeID := int64(0)
	if beforeIDStr := r.URL.Query().Get("before_id"); beforeIDStr != "" {
		var err error
		beforeID, err = strconv.ParseInt(beforeIDStr, 10, 64)
		if err != nil {
			return httputils.JsonError{Code: 400, Error: "WRONG_NUMBER_FORMAT"}, nil
		}
	}

	recs, err := store.ListReceipts(r.Context(), beforeID, 25)
	if err != nil {
		return nil, merry.Wrap(err)
	}
	if recs == nil {
		recs = emptyReceipts
	}
	return recs, nil
}

func receiptIDParam(ps httprouter.Params) (int64, *httputils.JsonError) {
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil {
		return 0, &httputils.JsonError{Code: 400, Error: "WRONG_RECEIPT_ID", Description: ps.ByName("id")}
	}
	return id, nil
}

func HandleAPIEnsurePdf(wr http.ResponseWriter, r *http.Request, ps httprouter.Params) (interface{}, error) {
	id, jsonErr := receiptIDParam(ps)
	if jsonErr != nil {
		return jsonErr, nil
	}
	force := r.URL.Query().Get("force") == "1"

	pdfService := r.Context().Value(CtxKeyPdfService).(*receipts.PdfService)
	res, err := pdfService.EnsurePdf(r.Context(), id, force)
	if merry.Is(err, receipts.ErrReceiptNotFound) {
		return httputils.JsonError{Code: 404, Error: "RECEIPT_NOT_FOUND"}, nil
	} else if err != nil {
		return nil, merry.Wrap(err)
	}
	return res, nil
}

func HandleAPIDownloadPdf(wr http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	id, jsonErr := receiptIDParam(ps)
	if jsonErr != nil {
		wr.WriteHeader(int(jsonErr.Code))
		return json.NewEncoder(wr).Encode(jsonErr)
	}

	pdfService := r.Context().Value(CtxKeyPdfService).(*receipts.PdfService)
	data, err := pdfService.DownloadPdf(r.Context(), id)
	if merry.Is(err, receipts.ErrReceiptNotFound) || merry.Is(err, receipts.ErrPdfDownloadFailed) {
		wr.WriteHeader(404)
		return json.NewEncoder(wr).Encode(httputils.JsonError{Code: 404, Error: "PDF_NOT_FOUND"})
	} else if err != nil {
		return merry.Wrap(err)
	}

	wr.Header().Set("Content-Type", "application/pdf")
	wr.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, err = wr.Write(data)
	return merry.Wrap(err)
}

func HandleAPIEcho(wr http.ResponseWriter, r *http.Request, ps httprouter.Params) (interface{}, error) {
	fiscal := r.Context().Value(CtxKeyFiscal).(*FiscalContext)
	msg := r.URL.Query().Get("message")
	if msg == "" {
		msg = "ping"
	}
	reply, err := fiscal.Client.Echo(r.Context(), msg)
	if err != nil {
		return nil, merry.Wrap(err)
	}
	return map[string]string{"reply": reply}, nil
}

func StartHTTPServer(address string, env utils.Env, store *ReceiptStore, fiscal *FiscalContext, pdfService *receipts.PdfService, triggerChan chan struct{}) error {
	wrapper := &httputils.Wrapper{
		ShowErrorDetails: env.IsEduc(),
		ExtraChainItem: func(handle httputils.HandlerExt) httputils.HandlerExt {
			return func(wr http.ResponseWriter, r *http.Request, params httprouter.Params) error {
				log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
				r = r.WithContext(context.WithValue(r.Context(), CtxKeyEnv, env))
				r = r.WithContext(context.WithValue(r.Context(), CtxKeyStore, store))
				r = r.WithContext(context.WithValue(r.Context(), CtxKeyFiscal, fiscal))
				r = r.WithContext(context.WithValue(r.Context(), CtxKeyPdfService, pdfService))
				r = r.WithContext(context.WithValue(r.Context(), CtxKeyTrigger, triggerChan))
				return merry.Wrap(handle(wr, r, params))
			}
		},
		LogError: func(err error, r *http.Request) {
			log.Error().Stack().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("")
		},
	}

	router := httprouter.New()
	route := func(method, path string, chain ...interface{}) {
		router.Handle(method, path, wrapper.WrapChain(chain...))
	}

	route("POST", "/api/receipt", HandleAPIFiscalize)
	route("GET", "/api/receipts", HandleAPIReceiptsList)
	route("POST", "/api/receipt/:id/pdf", HandleAPIEnsurePdf)
	route("GET", "/api/receipt/:id/pdf", HandleAPIDownloadPdf)
	route("GET", "/api/echo", HandleAPIEcho)

	log.Info().Msg("starting server on " + address)
	return merry.Wrap(http.ListenAndServe(address, router))
}
