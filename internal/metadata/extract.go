// Package metadata extracts generation metadata from image files: PNG
// text chunks written by ComfyUI and A1111, JPEG EXIF, and basic file
// info.
package metadata

import (
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"  // register decoder for DecodeConfig
	_ "image/jpeg" // register decoder for DecodeConfig
	_ "image/png"  // register decoder for DecodeConfig
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "golang.org/x/image/webp" // register decoder for DecodeConfig
)

// Extract builds the metadata object for one image. The returned map is
// always usable: on error it holds whatever was gathered before the
// failure, possibly nothing.
func Extract(path string) (map[string]any, error) {
	md := make(map[string]any)

	f, err := os.Open(path)
	if err != nil {
		return md, fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return md, fmt.Errorf("stat image: %w", err)
	}

	if info.IsDir() {
		return md, fmt.Errorf("%s is a directory", path)
	}

	fileinfo := map[string]any{
		"filename": filepath.ToSlash(path),
		"date":     formatModTime(info.ModTime()),
		"size":     FormatSize(info.Size()),
	}
	md["fileinfo"] = fileinfo

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		p, err := readPNG(f)
		if err != nil {
			return md, fmt.Errorf("reading png: %w", err)
		}

		fileinfo["resolution"] = fmt.Sprintf("%dx%d", p.Width, p.Height)
		applyText(p, md)

		return md, nil
	case ".jpg", ".jpeg":
		fileinfo["resolution"] = resolution(f)

		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return md, fmt.Errorf("rewinding image: %w", err)
		}

		readEXIF(f, md)

		return md, nil
	default:
		fileinfo["resolution"] = resolution(f)
		return md, nil
	}
}

func resolution(r io.Reader) string {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return ""
	}

	return fmt.Sprintf("%dx%d", cfg.Width, cfg.Height)
}

// applyText maps PNG text chunks into md. workflow and prompt are JSON
// documents; parameters is A1111 text; anything else is decoded as JSON
// when it parses and kept as text otherwise.
func applyText(p *pngInfo, md map[string]any) {
	for _, key := range p.Keys {
		value := p.Text[key]

		switch key {
		case "workflow":
			md["workflow"] = decodeOrText(value)
		case "prompt":
			md["prompt"] = decodeOrText(value)
			walkPrompt(replaceNonFinite(value), md)
		case "parameters":
			parseParameters(value, md)
		case "CreationTime":
			md[key] = value
		default:
			md[key] = decodeOrText(value)
		}
	}
}

func decodeOrText(s string) any {
	var v any
	if err := json.Unmarshal([]byte(replaceNonFinite(s)), &v); err != nil {
		return s
	}

	return v
}

// FormatSize renders a byte count the way the gallery shows it:
// "512 bytes", "1.50 KB", "2.25 MB".
func FormatSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d bytes", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.2f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.2f MB", float64(n)/(1024*1024))
	}
}

func formatModTime(t time.Time) string {
	t = t.Local()
	if t.Nanosecond()/1000 == 0 {
		return t.Format(time.DateTime)
	}

	return t.Format("2006-01-02 15:04:05.000000")
}
