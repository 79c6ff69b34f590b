package fiscpdf

import (
	"bytes"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"testing"
)

func TestWrapText(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxChars int
		want     []string
	}{
		{"empty", "", 10, []string{""}},
		{"fits on one line", "kava s mlijekom", 20, []string{"kava s mlijekom"}},
		{"wraps on spaces", "jedan dva tri cetiri", 9, []string{"jedan dva", "tri", "cetiri"}},
		{"hard-splits a long word", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{
			"long word mid-sentence",
			"br 12345678901234 kn",
			8,
			[]string{"br", "12345678", "901234", "kn"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WrapText(tt.text, tt.maxChars)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("WrapText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMaxCharsPerLine(t *testing.T) {
	if got := MaxCharsPerLine(100, 10); got != 20 {
		t.Errorf("MaxCharsPerLine(100, 10) = %v, want 20", got)
	}
	// never zero, even for absurdly narrow boxes
	if got := MaxCharsPerLine(1, 22); got != 1 {
		t.Errorf("MaxCharsPerLine(1, 22) = %v, want 1", got)
	}
}

func TestEscapeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"delimiters", `Obrt (d.o.o.) \ test`, `Obrt \(d.o.o.\) \\ test`},
		{"croatian diacritics", "Pečenjarnica Šišmiš đć ŽĆČĐŠ", "Pecenjarnica Sismis dc ZCCDS"},
		{"other non-ascii", "café №7", "caf? ?7"},
		{"plain ascii", "Racun 17/PP1/1", "Racun 17/PP1/1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := escapeText(tt.in); got != tt.want {
				t.Errorf("escapeText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTextNonAsciiStaysOutOfContentStream(t *testing.T) {
	doc := NewDocument()
	doc.Text("Vlasnik: Đurđica Šarić", 40, 20, 10, false, Black)

	data, err := doc.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	if !bytes.Contains(data, []byte("(Vlasnik: Durdica Saric) Tj")) {
		t.Errorf("content stream does not carry the transliterated text")
	}
	for _, b := range data[:bytes.Index(data, []byte("endstream"))] {
		if b > 0x7f {
			t.Fatalf("content stream contains byte 0x%02x outside ASCII", b)
		}
	}
}

func TestDocumentBytes(t *testing.T) {
	doc := NewDocument()
	doc.Rect(10, 10, 100, 50, Black)
	doc.Text("RACUN", 40, 20, 12, true, Black)
	doc.Line(0, 100, 200, 100, 0.5, Black)

	data, err := doc.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	if !bytes.HasPrefix(data, []byte("%PDF-1.4\n")) {
		t.Errorf("output does not start with the PDF header")
	}
	if !bytes.HasSuffix(data, []byte("%%EOF\n")) {
		t.Errorf("output does not end with %%%%EOF")
	}
	for _, want := range []string{
		"/Type /Catalog",
		"/Type /Pages",
		"/Type /Page ",
		"/BaseFont /Helvetica ",
		"/BaseFont /Helvetica-Bold",
		"(RACUN) Tj",
		"trailer",
		"startxref",
	} {
		if !bytes.Contains(data, []byte(want)) {
			t.Errorf("output is missing %q", want)
		}
	}

	// the declared content stream length must match the bytes between
	// "stream" and "endstream"
	checkStreamLength(t, data, "4 0 obj")

	// startxref must point at the xref table
	text := string(data)
	i := strings.LastIndex(text, "startxref\n")
	offsetStr := strings.TrimSpace(strings.Split(text[i+len("startxref\n"):], "\n")[0])
	offset, err := strconv.Atoi(offsetStr)
	if err != nil {
		t.Fatalf("startxref offset %q is not a number", offsetStr)
	}
	if !strings.HasPrefix(text[offset:], "xref\n") {
		t.Errorf("startxref %d does not point at the xref table", offset)
	}
}

func TestDocumentBytesWithImage(t *testing.T) {
	doc := NewDocument()
	img := &Image{Width: 2, Height: 2, ColorSpace: "DeviceGray", Data: []byte{0, 255, 255, 0}}
	doc.PlaceImage(img, 10, 10, 90, 90)

	data, err := doc.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	for _, want := range []string{
		"/Im1 Do",
		"/Subtype /Image",
		"/Width 2 /Height 2",
		"/ColorSpace /DeviceGray",
		"/Filter /FlateDecode",
	} {
		if !bytes.Contains(data, []byte(want)) {
			t.Errorf("output is missing %q", want)
		}
	}
	checkStreamLength(t, data, "7 0 obj")
}

func TestPdfCoordinateFlip(t *testing.T) {
	doc := NewDocument()
	doc.Rect(0, 0, 10, 20, Black)

	// a rect at the very top of the page lands at PageHeight-h in PDF space
	want := fmt.Sprintf("0.00 %s 10.00 20.00 re f", fnum(PageHeight-20))
	if !strings.Contains(doc.content.String(), want) {
		t.Errorf("content = %q, want it to contain %q", doc.content.String(), want)
	}
}

func checkStreamLength(t *testing.T, data []byte, objMarker string) {
	t.Helper()
	objStart := bytes.Index(data, []byte(objMarker))
	if objStart == -1 {
		t.Fatalf("object %q not found", objMarker)
	}
	section := data[objStart:]

	lenStart := bytes.Index(section, []byte("/Length "))
	if lenStart == -1 {
		t.Fatalf("object %q has no /Length", objMarker)
	}
	var declared int
	if _, err := fmt.Sscanf(string(section[lenStart:]), "/Length %d", &declared); err != nil {
		t.Fatalf("can not read /Length of %q: %v", objMarker, err)
	}

	streamStart := bytes.Index(section, []byte("stream\n"))
	streamEnd := bytes.Index(section, []byte("\nendstream"))
	if streamStart == -1 || streamEnd == -1 {
		t.Fatalf("object %q has no stream body", objMarker)
	}
	actual := streamEnd - (streamStart + len("stream\n"))
	if actual != declared {
		t.Errorf("%q stream length = %d, declared %d", objMarker, actual, declared)
	}
}
