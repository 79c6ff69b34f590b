package cis

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/ansel1/merry"
)

// ZkiOptions are the business fields the protective code is computed
// over.
type ZkiOptions struct {
	Pin           string
	Date          time.Time
	ReceiptNumber string
	PremiseID     string
	PosID         string
	TotalAmount   float64
}

// GenerateZki computes the issuer protection code: an MD5 digest over
// the ordered concatenation of the private key PEM and the business
// fields, with no separators. The order and the absence of separators
// are a binding external contract; a deviation produces a code the tax
// authority rejects without any local error.
func GenerateZki(opts ZkiOptions, p12 []byte, password string) (string, error) {
	creds, err := ExtractCredentials(p12, password)
	if err != nil {
		return "", merry.Wrap(err)
	}
	return zkiFromKeyPem(opts, creds.KeyPem), nil
}

func zkiFromKeyPem(opts ZkiOptions, keyPem string) string {
	h := md5.New()
	h.Write([]byte(keyPem))
	h.Write([]byte(opts.Pin))
	h.Write([]byte(SoapDateTime(opts.Date)))
	h.Write([]byte(opts.ReceiptNumber))
	h.Write([]byte(opts.PremiseID))
	h.Write([]byte(opts.PosID))
	h.Write([]byte(strconv.FormatFloat(opts.TotalAmount, 'f', -1, 64)))
	return hex.EncodeToString(h.Sum(nil))
}
