package ocr

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ParseHOCR reads Tesseract-style hOCR. Paragraphs (ocr_par) become
// blocks; pages without paragraphs fall back to lines (ocr_line).
func ParseHOCR(r io.Reader, documentID string) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse hOCR: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	out := &Document{ID: documentID}
	doc.Find(".ocr_page").Each(func(i int, page *goquery.Selection) {
		p := Page{Number: i + 1}
		props := titleProps(page.Nodes[0])
		if box := props["bbox"]; len(box) == 4 {
			p.Width = box[2] - box[0]
			p.Height = box[3] - box[1]
		}
		if n := props["ppageno"]; len(n) == 1 {
			p.Number = int(n[0]) + 1
		}

		units := page.Find(".ocr_par")
		kind := "paragraph"
		if units.Length() == 0 {
			units = page.Find(".ocr_line")
			kind = "line"
		}
		units.Each(func(_ int, unit *goquery.Selection) {
			text := unitText(unit)
			if text == "" {
				return
			}
			b := Block{Text: text, Type: kind}
			if box := titleProps(unit.Nodes[0])["bbox"]; len(box) == 4 {
				b.BBox = box
			}
			p.Blocks = append(p.Blocks, b)
		})
		out.Pages = append(out.Pages, p)
	})

	if len(out.Pages) == 0 {
		return nil, fmt.Errorf("hOCR for %s has no ocr_page elements", documentID)
	}
	return out, nil
}

// unitText joins word spans when present, else the element's text
func unitText(s *goquery.Selection) string {
	words := s.Find(".ocrx_word")
	if words.Length() == 0 {
		return normalizeSpace(s.Text())
	}
	parts := make([]string, 0, words.Length())
	words.Each(func(_ int, w *goquery.Selection) {
		if t := strings.TrimSpace(w.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, " ")
}

// titleProps parses an hOCR title attribute such as
// "bbox 0 0 2480 3508; ppageno 0" into numeric properties
func titleProps(n *html.Node) map[string][]float64 {
	props := make(map[string][]float64)
	for _, a := range n.Attr {
		if a.Key != "title" {
			continue
		}
		for _, part := range strings.Split(a.Val, ";") {
			fields := strings.Fields(part)
			if len(fields) < 2 {
				continue
			}
			var nums []float64
			for _, f := range fields[1:] {
				v, err := strconv.ParseFloat(strings.Trim(f, `"`), 64)
				if err != nil {
					nums = nil
					break
				}
				nums = append(nums, v)
			}
			if nums != nil {
				props[fields[0]] = nums
			}
		}
	}
	return props
}
