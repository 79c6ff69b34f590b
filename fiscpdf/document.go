package fiscpdf

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"strings"

	"github.com/ansel1/merry"
)

// A4 in points
const (
	PageWidth  = 595.28
	PageHeight = 841.89
)

type Color struct {
	R, G, B float64
}

var (
	Black = Color{0, 0, 0}
	White = Color{1, 1, 1}
)

// Document accumulates content-stream drawing operations for a single
// page and serializes them into a complete PDF 1.4 file. All primitives
// take top-down offsets; the flip into PDF's bottom-up coordinates
// happens in pdfY alone, so layout code never sees the inversion.
type Document struct {
	content bytes.Buffer
	image   *Image
}

func NewDocument() *Document {
	return &Document{}
}

func pdfY(top, height float64) float64 {
	return PageHeight - top - height
}

func fnum(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

// Rect draws a filled rectangle. x/top are the top-left corner.
func (d *Document) Rect(x, top, w, h float64, c Color) {
	fmt.Fprintf(&d.content, "%s %s %s rg %s %s %s %s re f\n",
		fnum(c.R), fnum(c.G), fnum(c.B),
		fnum(x), fnum(pdfY(top, h)), fnum(w), fnum(h))
}

// Line draws a straight stroke between two points given in top-down
// coordinates.
func (d *Document) Line(x1, top1, x2, top2, width float64, c Color) {
	fmt.Fprintf(&d.content, "%s %s %s RG %s w %s %s m %s %s l S\n",
		fnum(c.R), fnum(c.G), fnum(c.B), fnum(width),
		fnum(x1), fnum(pdfY(top1, 0)), fnum(x2), fnum(pdfY(top2, 0)))
}

// Text draws a single line whose top edge sits at the given offset.
func (d *Document) Text(text string, x, top, size float64, bold bool, c Color) {
	font := "F1"
	if bold {
		font = "F2"
	}
	fmt.Fprintf(&d.content, "BT /%s %s Tf %s %s %s rg 1 0 0 1 %s %s Tm (%s) Tj ET\n",
		font, fnum(size),
		fnum(c.R), fnum(c.G), fnum(c.B),
		fnum(x), fnum(pdfY(top, size)), escapeText(text))
}

// MaxCharsPerLine estimates how many characters fit into a width using
// the fixed 0.5*size character budget. Approximate, not glyph metrics;
// good enough for a receipt template.
func MaxCharsPerLine(maxWidth, size float64) int {
	n := int(maxWidth / (0.5 * size))
	if n < 1 {
		n = 1
	}
	return n
}

// TextWrapped draws word-wrapped text and returns the top offset just
// below the last rendered line.
func (d *Document) TextWrapped(text string, x, top, maxWidth, size, lineHeight float64, bold bool, c Color) float64 {
	for _, line := range WrapText(text, MaxCharsPerLine(maxWidth, size)) {
		d.Text(line, x, top, size, bold, c)
		top += lineHeight
	}
	return top
}

// WrapText splits text into lines of at most maxChars characters,
// breaking on spaces. A single word longer than the budget is split
// hard.
func WrapText(text string, maxChars int) []string {
	var lines []string
	var line string
	for _, word := range strings.Fields(text) {
		for len(word) > maxChars {
			if line != "" {
				lines = append(lines, line)
				line = ""
			}
			lines = append(lines, word[:maxChars])
			word = word[maxChars:]
		}
		switch {
		case line == "":
			line = word
		case len(line)+1+len(word) <= maxChars:
			line += " " + word
		default:
			lines = append(lines, line)
			line = word
		}
	}
	if line != "" || len(lines) == 0 {
		lines = append(lines, line)
	}
	return lines
}

// PlaceImage embeds the decoded image at the given box. One image per
// document is enough for the receipt template.
func (d *Document) PlaceImage(img *Image, x, top, w, h float64) {
	d.image = img
	fmt.Fprintf(&d.content, "q %s 0 0 %s %s %s cm /Im1 Do Q\n",
		fnum(w), fnum(h), fnum(x), fnum(pdfY(top, h)))
}

// asciiFallback maps the diacritics common in Croatian names to their
// base letters. The built-in Type1 Helvetica has no encoding table for
// multi-byte UTF-8, so these would otherwise render as mojibake.
var asciiFallback = map[rune]byte{
	'č': 'c', 'ć': 'c', 'đ': 'd', 'š': 's', 'ž': 'z',
	'Č': 'C', 'Ć': 'C', 'Đ': 'D', 'Š': 'S', 'Ž': 'Z',
}

func escapeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == '(':
			b.WriteString(`\(`)
		case r == ')':
			b.WriteString(`\)`)
		case r < 0x80:
			b.WriteByte(byte(r))
		default:
			if repl, ok := asciiFallback[r]; ok {
				b.WriteByte(repl)
			} else {
				b.WriteByte('?')
			}
		}
	}
	return b.String()
}

// Bytes serializes the page into a PDF 1.4 object graph: Catalog,
// Pages, Page, content stream, the two Helvetica fonts and, when an
// image was placed, its XObject, followed by a hand-written xref table
// and trailer. Stream /Length values are exact byte lengths.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	objectCount := 6
	if d.image != nil {
		objectCount = 7
	}
	offsets := make([]int, objectCount+1)

	writeObj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")

	resources := "<< /Font << /F1 5 0 R /F2 6 0 R >>"
	if d.image != nil {
		resources += " /XObject << /Im1 7 0 R >>"
	}
	resources += " >>"
	writeObj(3, fmt.Sprintf(
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %s %s] /Resources %s /Contents 4 0 R >>",
		fnum(PageWidth), fnum(PageHeight), resources))

	content := d.content.Bytes()
	offsets[4] = buf.Len()
	fmt.Fprintf(&buf, "4 0 obj\n<< /Length %d >>\nstream\n", len(content))
	buf.Write(content)
	buf.WriteString("\nendstream\nendobj\n")

	writeObj(5, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	writeObj(6, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica-Bold >>")

	if d.image != nil {
		deflated, err := deflate(d.image.Data)
		if err != nil {
			return nil, merry.Wrap(err)
		}
		offsets[7] = buf.Len()
		fmt.Fprintf(&buf,
			"7 0 obj\n<< /Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /%s /BitsPerComponent 8 /Filter /FlateDecode /Length %d >>\nstream\n",
			d.image.Width, d.image.Height, d.image.ColorSpace, len(deflated))
		buf.Write(deflated)
		buf.WriteString("\nendstream\nendobj\n")
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", objectCount+1)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= objectCount; num++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[num])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", objectCount+1, xrefOffset)

	return buf.Bytes(), nil
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, merry.Wrap(err)
	}
	if err := w.Close(); err != nil {
		return nil, merry.Wrap(err)
	}
	return buf.Bytes(), nil
}
