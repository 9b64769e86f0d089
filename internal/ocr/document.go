// Package ocr reads OCR output for exhibits and turns it into snippets.
// OCR itself runs elsewhere; this package only consumes its results.
package ocr

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/ppiankov/petitrace/internal/model"
)

// Source loads OCR output for a document
type Source interface {
	Load(ctx context.Context, documentID string) (*Document, error)
}

// Document is the OCR result of one exhibit file
type Document struct {
	ID        string `json:"id"`
	ExhibitID string `json:"exhibit_id"`
	Pages     []Page `json:"pages"`
}

// Page is one OCR'd page. Width and Height give the pixel space block
// boxes are expressed in; zero means boxes are already normalized.
type Page struct {
	Number int     `json:"number"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
	Blocks []Block `json:"blocks"`
}

// Block is a text region
type Block struct {
	Text string    `json:"text"`
	BBox []float64 `json:"bbox,omitempty"` // x1, y1, x2, y2
	Type string    `json:"type,omitempty"` // paragraph, line, table...
}

// Snippets converts the document into registry snippets. Block numbers
// run across the whole document so ids stay unique per exhibit.
func (d *Document) Snippets() ([]model.Snippet, error) {
	exhibit := d.ExhibitID
	if exhibit == "" {
		exhibit = d.ID
	}

	var out []model.Snippet
	block := 0
	for _, p := range d.Pages {
		for _, b := range p.Blocks {
			text := normalizeSpace(b.Text)
			if text == "" {
				continue
			}
			block++
			bbox, err := normalizeBBox(b.BBox, p.Width, p.Height)
			if err != nil {
				return nil, fmt.Errorf("document %s page %d block %d: %w", d.ID, p.Number, block, err)
			}
			out = append(out, model.Snippet{
				ID:         model.SnippetID(exhibit, block),
				DocumentID: d.ID,
				ExhibitID:  exhibit,
				Page:       p.Number,
				BBox:       bbox,
				Text:       text,
				ClaimType:  model.ClaimOther,
			})
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrEmptyDocument, d.ID)
	}
	return out, nil
}

func normalizeBBox(raw []float64, width, height float64) (*model.BBox, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if len(raw) != 4 {
		return nil, fmt.Errorf("%w: bbox needs 4 coordinates, got %d", model.ErrInvalidInput, len(raw))
	}
	sx, sy := 1.0, 1.0
	if width > 0 && height > 0 {
		sx = model.BBoxScale / width
		sy = model.BBoxScale / height
	}
	b := &model.BBox{
		X1: clamp(int(math.Floor(raw[0] * sx))),
		Y1: clamp(int(math.Floor(raw[1] * sy))),
		X2: clamp(int(math.Ceil(raw[2] * sx))),
		Y2: clamp(int(math.Ceil(raw[3] * sy))),
	}
	if !b.Valid() {
		return nil, fmt.Errorf("%w: degenerate bbox %v", model.ErrInvalidInput, raw)
	}
	return b, nil
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > model.BBoxScale {
		return model.BBoxScale
	}
	return v
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
