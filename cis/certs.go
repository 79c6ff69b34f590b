package cis

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"

	"github.com/ansel1/merry"
	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

var ErrCredentials = merry.New("can not read credentials")

// IssuerAttr is a single attribute of the certificate issuer DN.
type IssuerAttr struct {
	ShortName string `json:"shortName"`
	Value     string `json:"value"`
}

// Credentials is the material extracted from one PKCS#12 bundle.
type Credentials struct {
	Key     *rsa.PrivateKey
	Cert    *x509.Certificate
	KeyPem  string
	CertPem string
	Issuer  []IssuerAttr
	// SerialNumber is decimal. Serials are unsigned and of arbitrary
	// length, so they stay strings and never become machine integers.
	SerialNumber string
}

// ExtractCredentials parses a PKCS#12 bundle with the given password and
// returns the private key and leaf certificate in PEM form together with
// issuer/serial metadata. A wrong password or a bundle without a key or
// certificate bag fails with ErrCredentials; there is nothing to retry.
func ExtractCredentials(p12 []byte, password string) (*Credentials, error) {
	key, cert, _, err := pkcs12.DecodeChain(p12, password)
	if err != nil {
		return nil, ErrCredentials.Here().Append(err.Error())
	}
	if cert == nil {
		return nil, ErrCredentials.Here().Append("no certificate bag in bundle")
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrCredentials.Here().Appendf("unexpected private key type %T", key)
	}

	keyDer, err := x509.MarshalPKCS8PrivateKey(rsaKey)
	if err != nil {
		return nil, ErrCredentials.Here().Append(err.Error())
	}
	keyPem := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDer}))
	certPem := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}))

	return &Credentials{
		Key:          rsaKey,
		Cert:         cert,
		KeyPem:       keyPem,
		CertPem:      certPem,
		Issuer:       issuerAttrs(cert),
		SerialNumber: cert.SerialNumber.String(),
	}, nil
}

// IssuerName renders the issuer attributes as "OU=...,O=...,C=..." for
// the X509IssuerSerial block.
func (c *Credentials) IssuerName() string {
	parts := make([]string, 0, len(c.Issuer))
	for _, attr := range c.Issuer {
		parts = append(parts, attr.ShortName+"="+attr.Value)
	}
	return strings.Join(parts, ",")
}

// CertBase64 returns the certificate body as a single base64 line, the
// form KeyInfo wants it in.
func (c *Credentials) CertBase64() string {
	body := c.CertPem
	body = strings.TrimPrefix(body, "-----BEGIN CERTIFICATE-----")
	i := strings.Index(body, "-----END CERTIFICATE-----")
	if i != -1 {
		body = body[:i]
	}
	return strings.Join(strings.Fields(body), "")
}

func issuerAttrs(cert *x509.Certificate) []IssuerAttr {
	var attrs []IssuerAttr
	add := func(shortName string, values []string) {
		for _, v := range values {
			attrs = append(attrs, IssuerAttr{ShortName: shortName, Value: v})
		}
	}
	if cn := cert.Issuer.CommonName; cn != "" {
		add("CN", []string{cn})
	}
	add("OU", cert.Issuer.OrganizationalUnit)
	add("O", cert.Issuer.Organization)
	add("C", cert.Issuer.Country)
	return attrs
}
