package metadata

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

const (
	// maxChunkSize caps a single chunk we are willing to buffer. ComfyUI
	// workflows are large but nowhere near this.
	maxChunkSize = 32 << 20

	// maxInflated caps the decompressed size of zTXt/iTXt payloads.
	maxInflated = 32 << 20
)

var errNotPNG = errors.New("not a png file")

// pngInfo is what we pull out of a PNG without decoding pixel data.
type pngInfo struct {
	Width  int
	Height int

	// Text holds tEXt, zTXt and iTXt chunks by keyword in file order of
	// first appearance. Later chunks with the same keyword win.
	Text map[string]string
	Keys []string
}

// readPNG walks the chunk list up to IEND. Image data chunks are skipped
// without buffering. Corrupt text chunks are ignored.
func readPNG(r io.Reader) (*pngInfo, error) {
	br := bufio.NewReader(r)

	sig := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(br, sig); err != nil || !bytes.Equal(sig, pngSignature) {
		return nil, errNotPNG
	}

	info := &pngInfo{Text: make(map[string]string)}
	hdr := make([]byte, 8)

	for {
		if _, err := io.ReadFull(br, hdr); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return info, nil
			}

			return nil, fmt.Errorf("reading chunk header: %w", err)
		}

		length := binary.BigEndian.Uint32(hdr[:4])
		typ := string(hdr[4:8])

		if length > maxChunkSize {
			return nil, fmt.Errorf("chunk %s too large: %d bytes", typ, length)
		}

		switch typ {
		case "IHDR", "tEXt", "zTXt", "iTXt":
			data := make([]byte, length)
			if _, err := io.ReadFull(br, data); err != nil {
				return info, nil //nolint:nilerr // truncated file, keep what we have
			}

			info.handle(typ, data)
		case "IEND":
			return info, nil
		default:
			if _, err := br.Discard(int(length)); err != nil {
				return info, nil //nolint:nilerr // truncated file, keep what we have
			}
		}

		// CRC
		if _, err := br.Discard(4); err != nil {
			return info, nil //nolint:nilerr // truncated file, keep what we have
		}
	}
}

func (p *pngInfo) handle(typ string, data []byte) {
	switch typ {
	case "IHDR":
		if len(data) >= 8 {
			p.Width = int(binary.BigEndian.Uint32(data[0:4]))
			p.Height = int(binary.BigEndian.Uint32(data[4:8]))
		}
	case "tEXt":
		key, rest, ok := bytes.Cut(data, []byte{0})
		if ok {
			p.set(string(key), latin1(rest))
		}
	case "zTXt":
		key, rest, ok := bytes.Cut(data, []byte{0})
		if !ok || len(rest) < 1 || rest[0] != 0 {
			return
		}

		text, err := inflate(rest[1:])
		if err == nil {
			p.set(string(key), latin1(text))
		}
	case "iTXt":
		p.handleITXt(data)
	}
}

func (p *pngInfo) handleITXt(data []byte) {
	key, rest, ok := bytes.Cut(data, []byte{0})
	if !ok || len(rest) < 2 {
		return
	}

	compressed := rest[0] == 1
	rest = rest[2:]

	// language tag, translated keyword
	for range 2 {
		_, rest, ok = bytes.Cut(rest, []byte{0})
		if !ok {
			return
		}
	}

	if compressed {
		text, err := inflate(rest)
		if err != nil {
			return
		}

		rest = text
	}

	if !utf8.Valid(rest) {
		return
	}

	p.set(string(key), string(rest))
}

func (p *pngInfo) set(key, value string) {
	if key == "" {
		return
	}

	if _, ok := p.Text[key]; !ok {
		p.Keys = append(p.Keys, key)
	}

	p.Text[key] = value
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	return io.ReadAll(io.LimitReader(zr, maxInflated))
}

// latin1 decodes ISO-8859-1 bytes, which tEXt and zTXt are defined to
// carry. ComfyUI writes UTF-8 into tEXt anyway, so valid UTF-8 is passed
// through as is.
func latin1(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}

	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}

	return string(out)
}
