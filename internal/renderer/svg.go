package renderer

import (
	"bytes"
	"fmt"
	"io"

	"golang.org/x/net/html"
)

// SVGInfo describes the root element of a rendered SVG document.
type SVGInfo struct {
	Width   string
	Height  string
	ViewBox string
}

// InspectSVG finds the outermost <svg> element and returns its sizing
// attributes. Output without an svg root is an error.
func InspectSVG(data []byte) (SVGInfo, error) {
	z := html.NewTokenizer(bytes.NewReader(data))
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return SVGInfo{}, fmt.Errorf("no <svg> element found")
			}
			return SVGInfo{}, z.Err()
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "svg" {
				continue
			}
			var info SVGInfo
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				switch string(key) {
				case "width":
					info.Width = string(val)
				case "height":
					info.Height = string(val)
				case "viewbox":
					info.ViewBox = string(val)
				}
			}
			return info, nil
		}
	}
}
