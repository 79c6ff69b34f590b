package cis

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ansel1/merry"
)

func TestNewTransportEndpoint(t *testing.T) {
	tests := []struct {
		env          Environment
		wantEndpoint string
	}{
		{EnvEduc, "https://cistest.apis-it.hr:8449/FiskalizacijaServiceTest"},
		{EnvProd, "https://cis.porezna-uprava.hr:8449/FiskalizacijaService"},
	}
	for _, tt := range tests {
		t.Run(string(tt.env), func(t *testing.T) {
			if got := NewTransport(tt.env).Endpoint(); got != tt.wantEndpoint {
				t.Errorf("Endpoint() = %v, want %v", got, tt.wantEndpoint)
			}
		})
	}
}

func TestExtractErrors(t *testing.T) {
	tests := []struct {
		name         string
		responseText string
		wantErrors   []ResponseError
	}{
		{
			name: "xml with code and message",
			responseText: `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>
				<tns:RacunOdgovor xmlns:tns="http://www.apis-it.hr/fin/2012/types/f73">
					<tns:Greske>
						<tns:Greska>
							<tns:SifraGreske>s002</tns:SifraGreske>
							<tns:PorukaGreske>Certifikat nije valjan.</tns:PorukaGreske>
						</tns:Greska>
					</tns:Greske>
				</tns:RacunOdgovor>
			</soap:Body></soap:Envelope>`,
			wantErrors: []ResponseError{{Message: "Certifikat nije valjan.", Code: "s002"}},
		},
		{
			name: "multiple errors",
			responseText: `<RacunOdgovor>
				<Greske>
					<Greska><SifraGreske>s004</SifraGreske><PorukaGreske>Neispravan digitalni potpis.</PorukaGreske></Greska>
					<Greska><SifraGreske>s005</SifraGreske><PorukaGreske>OIB iz poruke zahtjeva nije jednak OIB-u iz certifikata.</PorukaGreske></Greska>
				</Greske>
			</RacunOdgovor>`,
			wantErrors: []ResponseError{
				{Message: "Neispravan digitalni potpis.", Code: "s004"},
				{Message: "OIB iz poruke zahtjeva nije jednak OIB-u iz certifikata.", Code: "s005"},
			},
		},
		{
			name:         "broken xml falls back to tag scan without code",
			responseText: `garbage <t:PorukaGreske> Sustav nedostupan. </t:PorukaGreske> <unclosed`,
			wantErrors:   []ResponseError{{Message: "Sustav nedostupan."}},
		},
		{
			name:         "no errors",
			responseText: `<RacunOdgovor><Jir>abc</Jir></RacunOdgovor>`,
			wantErrors:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractErrors(tt.responseText)
			if len(got) != len(tt.wantErrors) {
				t.Fatalf("ExtractErrors() = %v, want %v", got, tt.wantErrors)
			}
			for i := range got {
				if got[i] != tt.wantErrors[i] {
					t.Errorf("ExtractErrors()[%d] = %v, want %v", i, got[i], tt.wantErrors[i])
				}
			}
		})
	}
}

func TestSubmit(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantErrors int
		wantErr    bool
	}{
		{
			name:       "ok",
			statusCode: 200,
			body:       `<RacunOdgovor><Jir>abc</Jir></RacunOdgovor>`,
			wantErrors: 0,
		},
		{
			name:       "rejection with recognizable errors",
			statusCode: 500,
			body:       `<RacunOdgovor><Greske><Greska><SifraGreske>s002</SifraGreske><PorukaGreske>Certifikat nije valjan.</PorukaGreske></Greska></Greske></RacunOdgovor>`,
			wantErrors: 1,
		},
		{
			name:       "unexplained server error",
			statusCode: 502,
			body:       "Bad Gateway",
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotBody string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				buf, _ := io.ReadAll(r.Body)
				gotBody = string(buf)
				w.WriteHeader(tt.statusCode)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			transport := &Transport{endpoint: server.URL, client: server.Client()}
			res, err := transport.Submit(context.Background(), "<Payload/>")

			if (err != nil) != tt.wantErr {
				t.Fatalf("Submit() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !merry.Is(err, ErrUnexpectedHttpStatus) {
					t.Errorf("Submit() error = %v, want ErrUnexpectedHttpStatus", err)
				}
				return
			}
			if !strings.HasPrefix(gotBody, soapEnvelopeOpen) || !strings.HasSuffix(gotBody, soapEnvelopeClose) {
				t.Errorf("request body is not enveloped: %v", gotBody)
			}
			if !strings.Contains(gotBody, "<Payload/>") {
				t.Errorf("request body is missing the payload: %v", gotBody)
			}
			if res.Text != tt.body {
				t.Errorf("Text = %v, want %v", res.Text, tt.body)
			}
			if len(res.Errors) != tt.wantErrors {
				t.Errorf("Errors = %v, want %v entries", res.Errors, tt.wantErrors)
			}
		})
	}
}
