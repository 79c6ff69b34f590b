package fiscpdf

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"

	"github.com/ansel1/merry"
)

var ErrPngMalformed = merry.New("png data malformed")
var ErrPngUnsupported = merry.New("unsupported png feature")

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// Image is decoded raw pixel data ready for PDF embedding. ColorSpace
// is a PDF color space name, DeviceGray or DeviceRGB; any alpha channel
// has already been flattened.
type Image struct {
	Width      int
	Height     int
	ColorSpace string
	Data       []byte
}

type pngHeader struct {
	width, height     int
	bitDepth          byte
	colorType         byte
	interlace         byte
	channels          int
	flattenedChannels int
	colorSpace        string
}

// DecodePng reads a PNG byte stream: signature, IHDR, concatenated IDAT
// inflate, per-scanline filter reversal. Grayscale, RGB and their alpha
// variants at bit depth 8 are supported; indexed color fails fast.
// Chunk CRCs are not verified, the images here are self-generated QR
// codes rather than untrusted input.
func DecodePng(data []byte) (*Image, error) {
	if len(data) < len(pngSignature) || !bytes.Equal(data[:len(pngSignature)], pngSignature) {
		return nil, ErrPngMalformed.Here().Append("wrong signature")
	}

	var header *pngHeader
	var idat bytes.Buffer

	pos := len(pngSignature)
	for {
		if pos+8 > len(data) {
			return nil, ErrPngMalformed.Here().Append("truncated chunk header")
		}
		length := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		chunkType := string(data[pos+4 : pos+8])
		pos += 8
		if pos+length+4 > len(data) {
			return nil, ErrPngMalformed.Here().Append("truncated chunk data")
		}
		chunk := data[pos : pos+length]
		pos += length + 4 // data + crc

		switch chunkType {
		case "IHDR":
			h, err := parseIHDR(chunk)
			if err != nil {
				return nil, merry.Wrap(err)
			}
			header = h
		case "IDAT":
			idat.Write(chunk)
		case "IEND":
			if header == nil {
				return nil, ErrPngMalformed.Here().Append("IEND before IHDR")
			}
			return reconstruct(header, idat.Bytes())
		}
	}
}

func parseIHDR(chunk []byte) (*pngHeader, error) {
	if len(chunk) != 13 {
		return nil, ErrPngMalformed.Here().Append("wrong IHDR length")
	}
	h := &pngHeader{
		width:     int(binary.BigEndian.Uint32(chunk[0:4])),
		height:    int(binary.BigEndian.Uint32(chunk[4:8])),
		bitDepth:  chunk[8],
		colorType: chunk[9],
		interlace: chunk[12],
	}
	if h.width <= 0 || h.height <= 0 {
		return nil, ErrPngMalformed.Here().Append("wrong dimensions")
	}
	if h.bitDepth != 8 {
		return nil, ErrPngUnsupported.Here().Appendf("bit depth %d", h.bitDepth)
	}
	if h.interlace != 0 {
		return nil, ErrPngUnsupported.Here().Append("interlaced image")
	}
	switch h.colorType {
	case 0: // grayscale
		h.channels, h.flattenedChannels, h.colorSpace = 1, 1, "DeviceGray"
	case 2: // rgb
		h.channels, h.flattenedChannels, h.colorSpace = 3, 3, "DeviceRGB"
	case 4: // grayscale + alpha
		h.channels, h.flattenedChannels, h.colorSpace = 2, 1, "DeviceGray"
	case 6: // rgba
		h.channels, h.flattenedChannels, h.colorSpace = 4, 3, "DeviceRGB"
	case 3:
		return nil, ErrPngUnsupported.Here().Append("indexed color")
	default:
		return nil, ErrPngUnsupported.Here().Appendf("color type %d", h.colorType)
	}
	return h, nil
}

func reconstruct(h *pngHeader, compressed []byte) (*Image, error) {
	reader, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, ErrPngMalformed.Here().Append(err.Error())
	}
	defer reader.Close()
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, ErrPngMalformed.Here().Append(err.Error())
	}

	stride := h.width * h.channels
	if len(raw) < h.height*(stride+1) {
		return nil, ErrPngMalformed.Here().Append("truncated pixel data")
	}

	// Filters are reversed against the previous reconstructed row, not
	// the previous raw row.
	recon := make([]byte, h.height*stride)
	prev := make([]byte, stride)
	bpp := h.channels
	for row := 0; row < h.height; row++ {
		offset := row * (stride + 1)
		filter := raw[offset]
		line := raw[offset+1 : offset+1+stride]
		cur := recon[row*stride : (row+1)*stride]
		if err := unfilterRow(filter, line, cur, prev, bpp); err != nil {
			return nil, merry.Wrap(err)
		}
		prev = cur
	}

	return &Image{
		Width:      h.width,
		Height:     h.height,
		ColorSpace: h.colorSpace,
		Data:       flattenAlpha(h, recon),
	}, nil
}

func unfilterRow(filter byte, line, cur, prev []byte, bpp int) error {
	switch filter {
	case 0: // None
		copy(cur, line)
	case 1: // Sub
		for i := range line {
			left := byte(0)
			if i >= bpp {
				left = cur[i-bpp]
			}
			cur[i] = line[i] + left
		}
	case 2: // Up
		for i := range line {
			cur[i] = line[i] + prev[i]
		}
	case 3: // Average
		for i := range line {
			left := 0
			if i >= bpp {
				left = int(cur[i-bpp])
			}
			cur[i] = line[i] + byte((left+int(prev[i]))/2)
		}
	case 4: // Paeth
		for i := range line {
			left, upLeft := byte(0), byte(0)
			if i >= bpp {
				left = cur[i-bpp]
				upLeft = prev[i-bpp]
			}
			cur[i] = line[i] + paeth(left, prev[i], upLeft)
		}
	default:
		return ErrPngMalformed.Here().Appendf("wrong filter type %d", filter)
	}
	return nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// flattenAlpha drops the alpha channel, replacing fully transparent
// pixels with white. Partial alpha passes the color channels through
// unchanged, which is fine for binary QR images but is not a general
// compositor.
func flattenAlpha(h *pngHeader, recon []byte) []byte {
	if h.channels == h.flattenedChannels {
		return recon
	}
	out := make([]byte, h.width*h.height*h.flattenedChannels)
	colorCh := h.flattenedChannels
	for px := 0; px < h.width*h.height; px++ {
		in := px * h.channels
		o := px * colorCh
		alpha := recon[in+colorCh]
		for ch := 0; ch < colorCh; ch++ {
			if alpha == 0 {
				out[o+ch] = 0xff
			} else {
				out[o+ch] = recon[in+ch]
			}
		}
	}
	return out
}
