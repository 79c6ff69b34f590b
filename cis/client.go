package cis

import (
	"context"
	"strings"

	"github.com/ansel1/merry"
	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const nsF73 = "http://www.apis-it.hr/fin/2012/types/f73"

var ErrResponseMalformed = merry.New("response data malformed")

// Client submits fiscal requests for one issuing business. Each
// submission is composed and signed from its own inputs; the client
// itself holds no per-receipt state.
type Client struct {
	env       Environment
	transport *Transport
}

func NewClient(env Environment) *Client {
	return &Client{env: env, transport: NewTransport(env)}
}

// ReceiptRequest fiscalizes one receipt: computes the ZKI, builds and
// signs the RacunZahtjev document, transmits it and interprets the
// response. The result is a success exactly when the response carries a
// JIR; an authority rejection comes back as a structured failure result,
// not an error.
func (c *Client) ReceiptRequest(ctx context.Context, composed ComposedReceipt) (ReceiptRequestResult, error) {
	res := ReceiptRequestResult{
		DateTime:      composed.Receipt.Date,
		ReceiptNumber: composed.Receipt.ReceiptNumber,
	}

	if err := composed.Validate(); err != nil {
		return res, merry.Wrap(err)
	}
	// The endpoint is fixed at client construction, so a receipt composed
	// for the other environment must not silently go there.
	if composed.User.Environment != c.env {
		return res, merry.Errorf("receipt composed for %s, client connected to %s",
			composed.User.Environment, c.env)
	}

	// The ZKI goes inside the signed payload, so it is computed first.
	zki, err := GenerateZki(ZkiOptions{
		Pin:           composed.User.Pin,
		Date:          composed.Receipt.Date,
		ReceiptNumber: composed.Receipt.ReceiptNumber,
		PremiseID:     composed.Pos.PremiseID,
		PosID:         composed.Pos.PosID,
		TotalAmount:   composed.Receipt.TotalAmount,
	}, composed.User.CertP12, composed.User.CertPassword)
	if err != nil {
		return res, merry.Wrap(err)
	}
	res.ZKI = zki

	doc := buildReceiptRequest(&composed, zki)
	if err := SignRequest(doc, composed.User.CertP12, composed.User.CertPassword); err != nil {
		return res, merry.Wrap(err)
	}
	signedXML, err := doc.WriteToString()
	if err != nil {
		return res, merry.Wrap(err)
	}

	soapRes, err := c.transport.Submit(ctx, signedXML)
	if err != nil {
		return res, merry.Wrap(err)
	}
	res.ResponseText = soapRes.Text

	if len(soapRes.Errors) > 0 {
		res.Errors = soapRes.Errors
		return res, nil
	}

	jir, errors := parseReceiptResponse(soapRes.Text)
	if jir == "" {
		// a 2xx without a JIR is still a failure
		res.Errors = errors
		log.Warn().Str("receipt_number", res.ReceiptNumber).
			Int("errors", len(errors)).Msg("cis: receipt rejected")
		return res, nil
	}

	res.Success = true
	res.JIR = jir
	log.Info().Str("receipt_number", res.ReceiptNumber).Str("jir", jir).Msg("cis: receipt confirmed")
	return res, nil
}

// Echo verifies endpoint reachability with the unsigned echo request. It
// touches neither the ZKI nor the signer.
func (c *Client) Echo(ctx context.Context, message string) (string, error) {
	doc := etree.NewDocument()
	echo := doc.CreateElement("tns:EchoRequest")
	echo.CreateAttr("xmlns:tns", nsF73)
	echo.SetText(message)

	xml, err := doc.WriteToString()
	if err != nil {
		return "", merry.Wrap(err)
	}

	soapRes, err := c.transport.Submit(ctx, xml)
	if err != nil {
		return "", merry.Wrap(err)
	}

	respDoc := etree.NewDocument()
	if err := respDoc.ReadFromString(soapRes.Text); err != nil {
		return "", ErrResponseMalformed.Here().Append(soapRes.Text)
	}
	echoResp := respDoc.FindElement("//EchoResponse")
	if echoResp == nil {
		return "", ErrResponseMalformed.Here().Append("no EchoResponse element").Append(soapRes.Text)
	}
	return strings.TrimSpace(echoResp.Text()), nil
}

// buildReceiptRequest assembles the RacunZahtjev document following the
// CIS XSD: a Zaglavlje header with message id and timestamp, and the
// Racun body with the receipt fields and the protective code.
func buildReceiptRequest(composed *ComposedReceipt, zki string) *etree.Document {
	doc := etree.NewDocument()

	root := doc.CreateElement("tns:RacunZahtjev")
	root.CreateAttr("xmlns:tns", nsF73)
	root.CreateAttr("Id", "RacunZahtjev")

	header := root.CreateElement("tns:Zaglavlje")
	header.CreateElement("tns:IdPoruke").SetText(uuid.NewString())
	header.CreateElement("tns:DatumVrijeme").SetText(SoapDateTime(composed.Receipt.Date))

	racun := root.CreateElement("tns:Racun")
	racun.CreateElement("tns:Oib").SetText(composed.User.Pin)
	racun.CreateElement("tns:USustPdv").SetText(boolText(composed.User.UseVat))
	racun.CreateElement("tns:DatVrijeme").SetText(SoapDateTime(composed.Receipt.Date))
	racun.CreateElement("tns:OznSlijed").SetText(composed.sequenceMark())

	brRac := racun.CreateElement("tns:BrRac")
	brRac.CreateElement("tns:BrOznRac").SetText(composed.Receipt.ReceiptNumber)
	brRac.CreateElement("tns:OznPosPr").SetText(composed.Pos.PremiseID)
	brRac.CreateElement("tns:OznNapUr").SetText(composed.Pos.PosID)

	racun.CreateElement("tns:IznosUkupno").SetText(SoapAmount(composed.Receipt.TotalAmount))
	racun.CreateElement("tns:NacinPlac").SetText(composed.paymentMethod())
	racun.CreateElement("tns:OibOper").SetText(composed.PosUser.OperatorPin)
	racun.CreateElement("tns:ZastKod").SetText(zki)
	racun.CreateElement("tns:NakDost").SetText(boolText(composed.Receipt.LateFiscalization))

	return doc
}

func parseReceiptResponse(responseText string) (jir string, errors []ResponseError) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(responseText); err != nil || doc.Root() == nil {
		return "", nil
	}
	if el := doc.FindElement("//Jir"); el != nil {
		jir = strings.TrimSpace(el.Text())
	}
	return jir, ExtractErrors(responseText)
}

func boolText(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
