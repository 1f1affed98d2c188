package metadata

import (
	"io"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// readEXIF stores every EXIF tag as text under its field name. A file
// without EXIF leaves md untouched.
func readEXIF(r io.Reader, md map[string]any) {
	x, err := exif.Decode(r)
	if err != nil {
		return
	}

	_ = x.Walk(exifWalker(md))
}

type exifWalker map[string]any

func (w exifWalker) Walk(name exif.FieldName, tag *tiff.Tag) error {
	if tag == nil {
		return nil
	}

	if tag.Format() == tiff.StringVal {
		if s, err := tag.StringVal(); err == nil {
			w[string(name)] = s
			return nil
		}
	}

	w[string(name)] = tag.String()

	return nil
}
