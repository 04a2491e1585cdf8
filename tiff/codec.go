package tiff

import (
	"bufio"
	"bytes"
	"io"
	"io/ioutil"

	"github.com/klauspost/compress/flate"
	"golang.org/x/image/tiff/lzw"
)

// Decompress decodes one strip/tile fragment of n bytes read from r,
// dispatching on the given compression code.
func Decompress(r io.Reader, n int64, code CompressionCode) ([]byte, error) {
	switch code {
	case CompressionNone, 0:
		buf := make([]byte, n)
		_, err := io.ReadFull(r, buf)
		return buf, err
	case CompressionLZW:
		lr := lzw.NewReader(r, lzw.MSB, 8)
		defer lr.Close()
		return ioutil.ReadAll(lr)
	case CompressionDeflate, CompressionDeflateOld:
		fr := flate.NewReader(zlibBody(r))
		defer fr.Close()
		return ioutil.ReadAll(fr)
	case CompressionPackBits:
		return unpackBits(r)
	default:
		return nil, UnsupportedCompressionError{Code: code}
	}
}

// zlibBody strips the 2-byte zlib header (and trailing 4-byte Adler32,
// which flate.Reader simply ignores as trailing garbage) so that
// klauspost/compress/flate -- a raw DEFLATE reader -- can decode the body
// of a zlib-wrapped (TIFF "Deflate") stream. TIFF's Deflate tag always
// wraps raw deflate data in a zlib container per Adobe's specification
// supplement.
func zlibBody(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	// Skip the 2-byte zlib header (CMF, FLG).
	br.Discard(2)
	return br
}

// unpackBits decodes PackBits-compressed data (TIFF spec §9, p.42).
func unpackBits(r io.Reader) ([]byte, error) {
	type byteReader interface {
		io.Reader
		io.ByteReader
	}
	var n int
	buf := make([]byte, 128)
	dst := make([]byte, 0, 1024)
	br, ok := r.(byteReader)
	if !ok {
		br = bufio.NewReader(r)
	}

	for {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF {
				return dst, nil
			}
			return nil, err
		}
		code := int(int8(b))
		switch {
		case code >= 0:
			n, err = io.ReadFull(br, buf[:code+1])
			if err != nil {
				return nil, err
			}
			dst = append(dst, buf[:n]...)
		case code == -128:
			// No-op.
		default:
			if b, err = br.ReadByte(); err != nil {
				return nil, err
			}
			for j := 0; j < 1-code; j++ {
				buf[j] = b
			}
			dst = append(dst, buf[:1-code]...)
		}
	}
}

// ApplyHorizontalPredictor reverses horizontal differencing in place: each
// row's samples, after the first, are stored as the difference from the
// preceding sample of the same component. little selects how 16-bit samples
// are assembled/stored, matching the file's own byte order -- a classic
// TIFF's Predictor tag carries no byte-order information of its own, so the
// caller must thread it through from the stream that produced buf.
func ApplyHorizontalPredictor(buf []byte, width, height, samplesPerPixel, bytesPerSample int, little bool) {
	rowBytes := width * samplesPerPixel * bytesPerSample
	for row := 0; row < height; row++ {
		rowStart := row * rowBytes
		rowBuf := buf[rowStart : rowStart+rowBytes]
		switch bytesPerSample {
		case 1:
			for i := samplesPerPixel; i < len(rowBuf); i++ {
				rowBuf[i] += rowBuf[i-samplesPerPixel]
			}
		case 2:
			get16 := func(b []byte) uint16 {
				if little {
					return uint16(b[0]) | uint16(b[1])<<8
				}
				return uint16(b[0])<<8 | uint16(b[1])
			}
			put16 := func(b []byte, v uint16) {
				if little {
					b[0], b[1] = byte(v), byte(v>>8)
				} else {
					b[0], b[1] = byte(v>>8), byte(v)
				}
			}
			for i := samplesPerPixel * 2; i+1 < len(rowBuf); i += 2 {
				prev := get16(rowBuf[i-samplesPerPixel*2 : i-samplesPerPixel*2+2])
				cur := get16(rowBuf[i : i+2])
				put16(rowBuf[i:i+2], prev+cur)
			}
		}
	}
}

// packBits returns a PackBits-compressed encoding of src, the writer-side
// companion to unpackBits (runs of >=3 identical bytes are RLE-encoded,
// everything else copied literally in runs of up to 128 bytes).
func packBits(src []byte) []byte {
	var out bytes.Buffer
	i := 0
	for i < len(src) {
		runLen := 1
		for i+runLen < len(src) && runLen < 128 && src[i+runLen] == src[i] {
			runLen++
		}
		if runLen >= 3 {
			out.WriteByte(byte(int8(-(runLen - 1))))
			out.WriteByte(src[i])
			i += runLen
			continue
		}
		// Literal run: gather until the next run of >=3 identical bytes.
		start := i
		i++
		for i < len(src) && i-start < 128 {
			if i+2 < len(src) && src[i] == src[i+1] && src[i+1] == src[i+2] {
				break
			}
			i++
		}
		lit := src[start:i]
		out.WriteByte(byte(len(lit) - 1))
		out.Write(lit)
	}
	return out.Bytes()
}
