package cis

import (
	"strings"
	"testing"

	"github.com/ansel1/merry"
	"github.com/beevik/etree"
)

func buildTestRequestDoc() *etree.Document {
	doc := etree.NewDocument()
	root := doc.CreateElement("tns:RacunZahtjev")
	root.CreateAttr("xmlns:tns", nsF73)
	root.CreateAttr("Id", "RacunZahtjev")
	header := root.CreateElement("tns:Zaglavlje")
	header.CreateElement("tns:IdPoruke").SetText("c9d0a415-0091-4bc1-a472-57f4a9b4f71c")
	header.CreateElement("tns:DatumVrijeme").SetText("09.03.2024T12:34:56")
	return doc
}

func TestSignRequest(t *testing.T) {
	p12 := makeTestBundle(t, "secret")

	doc := buildTestRequestDoc()
	if err := SignRequest(doc, p12, "secret"); err != nil {
		t.Fatalf("SignRequest() error = %v", err)
	}

	root := doc.Root()
	children := root.ChildElements()
	last := children[len(children)-1]
	if last.Tag != "Signature" {
		t.Fatalf("last child = %v, want Signature", last.Tag)
	}
	if got := last.SelectAttrValue("xmlns", ""); got != nsXmldsig {
		t.Errorf("Signature xmlns = %v, want %v", got, nsXmldsig)
	}

	checks := []struct {
		path     string
		attr     string
		wantAttr string
	}{
		{"./SignedInfo/CanonicalizationMethod", "Algorithm", algExcC14N},
		{"./SignedInfo/SignatureMethod", "Algorithm", algRsaSha1},
		{"./SignedInfo/Reference", "URI", "#RacunZahtjev"},
		{"./SignedInfo/Reference/DigestMethod", "Algorithm", algSha1},
	}
	for _, c := range checks {
		el := last.FindElement(c.path)
		if el == nil {
			t.Fatalf("missing element %v", c.path)
		}
		if got := el.SelectAttrValue(c.attr, ""); got != c.wantAttr {
			t.Errorf("%v@%v = %v, want %v", c.path, c.attr, got, c.wantAttr)
		}
	}

	transforms := last.FindElements("./SignedInfo/Reference/Transforms/Transform")
	if len(transforms) != 2 {
		t.Fatalf("transforms = %d, want 2", len(transforms))
	}
	if got := transforms[0].SelectAttrValue("Algorithm", ""); got != algEnveloped {
		t.Errorf("first transform = %v, want %v", got, algEnveloped)
	}
	if got := transforms[1].SelectAttrValue("Algorithm", ""); got != algExcC14N {
		t.Errorf("second transform = %v, want %v", got, algExcC14N)
	}

	for _, path := range []string{
		"./SignatureValue",
		"./KeyInfo/X509Data/X509Certificate",
		"./KeyInfo/X509Data/X509IssuerSerial/X509IssuerName",
		"./KeyInfo/X509Data/X509IssuerSerial/X509SerialNumber",
	} {
		el := last.FindElement(path)
		if el == nil {
			t.Fatalf("missing element %v", path)
		}
		if strings.TrimSpace(el.Text()) == "" {
			t.Errorf("element %v is empty", path)
		}
	}

	if got := last.FindElement("./KeyInfo/X509Data/X509IssuerSerial/X509SerialNumber").Text(); got != "1234567890" {
		t.Errorf("X509SerialNumber = %v, want 1234567890", got)
	}
}

func TestSignRequestWrongPassword(t *testing.T) {
	p12 := makeTestBundle(t, "secret")
	doc := buildTestRequestDoc()
	err := SignRequest(doc, p12, "wrong")
	if !merry.Is(err, ErrSigning) {
		t.Errorf("SignRequest() error = %v, want ErrSigning", err)
	}
}

func TestVerifySignature(t *testing.T) {
	p12 := makeTestBundle(t, "secret")

	doc := buildTestRequestDoc()
	if err := SignRequest(doc, p12, "secret"); err != nil {
		t.Fatalf("SignRequest() error = %v", err)
	}
	if err := VerifySignature(doc); err != nil {
		t.Fatalf("VerifySignature() error = %v", err)
	}

	// serialization must not break the signature
	xml, err := doc.WriteToString()
	if err != nil {
		t.Fatalf("WriteToString() error = %v", err)
	}
	reread := etree.NewDocument()
	if err := reread.ReadFromString(xml); err != nil {
		t.Fatalf("ReadFromString() error = %v", err)
	}
	if err := VerifySignature(reread); err != nil {
		t.Errorf("VerifySignature() after round trip error = %v", err)
	}

	// tampering with signed content must be detected
	doc.Root().FindElement("./Zaglavlje/DatumVrijeme").SetText("10.03.2024T12:34:56")
	if err := VerifySignature(doc); err == nil {
		t.Errorf("VerifySignature() passed on a tampered document")
	}
}
