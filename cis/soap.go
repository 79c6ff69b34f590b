package cis

import (
	"context"
	"crypto/tls"
	"net/http"
	"receipt_fiscalizer/utils"
	"regexp"
	"strings"
	"time"

	"github.com/ansel1/merry"
	"github.com/beevik/etree"
	"github.com/rs/zerolog/log"
)

const (
	educEndpoint = "https://cistest.apis-it.hr:8449/FiskalizacijaServiceTest"
	prodEndpoint = "https://cis.porezna-uprava.hr:8449/FiskalizacijaService"

	soapEnvelopeOpen  = `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body>`
	soapEnvelopeClose = `</soapenv:Body></soapenv:Envelope>`
)

var ErrUnexpectedHttpStatus = merry.New("unexpected HTTP status")

// legacy fallback when the response is not parseable XML
var errorTagRe = regexp.MustCompile(`<(?:\w+:)?PorukaGreske>\s*([^<]+?)\s*</(?:\w+:)?PorukaGreske>`)

// SoapResponse is what came back from the CIS endpoint. Errors is
// populated when the authority rejected the request with a recognizable
// error payload; such a response is a business outcome, not a transport
// failure.
type SoapResponse struct {
	Text   string
	Errors []ResponseError
}

// Transport POSTs SOAP envelopes to one CIS endpoint. The endpoint is a
// pure function of the environment. Each Transport owns its http.Client,
// so the certificate bypass for the test environment never leaks into
// other requests of the process.
type Transport struct {
	endpoint string
	client   *http.Client
}

func NewTransport(env Environment) *Transport {
	endpoint := prodEndpoint
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if env == EnvEduc {
		endpoint = educEndpoint
		// the test endpoint runs on a self-signed certificate
		tlsConfig.InsecureSkipVerify = true
	}
	return &Transport{
		endpoint: endpoint,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
	}
}

func (t *Transport) Endpoint() string {
	return t.endpoint
}

// Submit wraps the signed XML fragment in a SOAP 1.1 envelope and POSTs
// it. A non-2xx response with a recognizable error payload comes back as
// SoapResponse.Errors; a non-2xx without one is a hard failure and the
// submission outcome is indeterminate.
func (t *Transport) Submit(ctx context.Context, signedXML string) (SoapResponse, error) {
	res := SoapResponse{}

	body := soapEnvelopeOpen + signedXML + soapEnvelopeClose
	req, err := http.NewRequestWithContext(ctx, "POST", t.endpoint, strings.NewReader(body))
	if err != nil {
		return res, merry.Wrap(err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	resp, buf, err := utils.GetHTTPBody(t.client, req)
	if err != nil {
		return res, err
	}
	res.Text = string(buf)

	log.Debug().
		Int("code", resp.StatusCode).Str("status", resp.Status).
		Str("url", t.endpoint).Int("body_length", len(buf)).
		Msg("cis: response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errors := ExtractErrors(res.Text)
		if len(errors) > 0 {
			res.Errors = errors
			return res, nil
		}
		return res, ErrUnexpectedHttpStatus.Here().Append(resp.Status).Append(res.Text)
	}
	return res, nil
}

// ExtractErrors pulls structured error entries out of a raw CIS
// response. It prefers parsing the XML for Greska elements; when the
// body is not parseable it falls back to scanning for the error message
// tag, in which case the error code is absent.
func ExtractErrors(responseText string) []ResponseError {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(responseText); err == nil && doc.Root() != nil {
		var errors []ResponseError
		for _, el := range doc.FindElements("//Greska") {
			e := ResponseError{}
			if msg := el.SelectElement("PorukaGreske"); msg != nil {
				e.Message = strings.TrimSpace(msg.Text())
			}
			if code := el.SelectElement("SifraGreske"); code != nil {
				e.Code = strings.TrimSpace(code.Text())
			}
			if e.Message != "" || e.Code != "" {
				errors = append(errors, e)
			}
		}
		if len(errors) > 0 {
			return errors
		}
	}

	var errors []ResponseError
	for _, m := range errorTagRe.FindAllStringSubmatch(responseText, -1) {
		errors = append(errors, ResponseError{Message: m[1]})
	}
	return errors
}
