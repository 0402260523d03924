// Package htmlparse turns rendered listing HTML into field maps with goquery.
package htmlparse

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/listing-monitor/internal/entity"
)

// FieldSelector locates one field inside an item. An empty Attr reads the
// element text.
type FieldSelector struct {
	Selector string
	Attr     string
}

// Selectors describes the markup of a listing page. Item matches one listing
// card (or the detail container on an entity page), and the id is read from
// IDAttr on the element matched by ID, or on the item itself when ID is empty.
type Selectors struct {
	Item   string
	ID     string
	IDAttr string
	Fields map[string]FieldSelector
}

type Parser struct {
	sel   Selectors
	names []string
}

func NewParser(sel Selectors) *Parser {
	names := make([]string, 0, len(sel.Fields))
	for name := range sel.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Parser{sel: sel, names: names}
}

// Parse extracts every item in the document. Confidence is the share of
// configured fields that were found across all items; a document without
// items has confidence 0.
func (p *Parser) Parse(r io.Reader, target entity.Target) (*entity.Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html for %s: %w", target, err)
	}
	base, _ := url.Parse(target.URL)

	items := doc.Find(p.sel.Item)
	if target.Kind == entity.TargetEntity {
		if items.Length() == 0 {
			items = doc.Selection
		}
		items = items.First()
	}

	result := &entity.Extraction{}
	found, slots := 0, 0
	items.Each(func(_ int, s *goquery.Selection) {
		id := p.itemID(s)
		if id == "" {
			if target.Kind != entity.TargetEntity {
				return
			}
			id = target.EntityID
		}

		fields := make(map[string]any, len(p.names))
		for _, name := range p.names {
			if v, ok := p.field(s, p.sel.Fields[name], base); ok {
				fields[name] = v
				found++
			}
		}
		slots += len(p.names)
		result.Items = append(result.Items, entity.ExtractedItem{EntityID: id, Fields: fields})
	})

	if slots > 0 {
		result.Confidence = float64(found) / float64(slots)
	}
	return result, nil
}

func (p *Parser) itemID(s *goquery.Selection) string {
	el := s
	if p.sel.ID != "" {
		el = s.Find(p.sel.ID).First()
	}
	if p.sel.IDAttr == "" {
		return collapse(el.Text())
	}
	id, _ := el.Attr(p.sel.IDAttr)
	return strings.TrimSpace(id)
}

func (p *Parser) field(s *goquery.Selection, fs FieldSelector, base *url.URL) (string, bool) {
	el := s.Find(fs.Selector).First()
	if el.Length() == 0 {
		return "", false
	}
	if fs.Attr == "" {
		v := collapse(el.Text())
		return v, v != ""
	}
	v, ok := el.Attr(fs.Attr)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return "", false
	}
	if (fs.Attr == "href" || fs.Attr == "src") && base != nil {
		if ref, err := url.Parse(v); err == nil {
			v = base.ResolveReference(ref).String()
		}
	}
	return v, true
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// StatusError classifies a non-2xx document status. 404 and 410 mean the
// target is gone; everything else is worth retrying.
func StatusError(target entity.Target, code int) error {
	if code >= 200 && code < 300 {
		return nil
	}
	err := fmt.Errorf("unexpected status %d %s", code, http.StatusText(code))
	if code == http.StatusNotFound || code == http.StatusGone {
		return entity.Permanent(target, err)
	}
	return entity.Transient(target, err)
}
