package catalog

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// DescriptionRenderer turns markdown product descriptions into sanitised HTML.
type DescriptionRenderer struct {
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
}

// NewDescriptionRenderer builds a renderer with GitHub-flavoured markdown and a UGC policy.
func NewDescriptionRenderer() *DescriptionRenderer {
	policy := bluemonday.UGCPolicy()
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	return &DescriptionRenderer{
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy:   policy,
	}
}

// Render converts src. Raw HTML in the source is dropped by goldmark and anything else unsafe by the
// policy.
func (r *DescriptionRenderer) Render(src string) (string, error) {
	if src == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := r.markdown.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("catalog: render description: %w", err)
	}
	return r.policy.Sanitize(buf.String()), nil
}

var printers sync.Map // language.Tag -> *message.Printer

// FormatPrice renders an EUR amount with two decimals using the number conventions of lang.
func FormatPrice(lang language.Tag, amount float64) string {
	p, ok := printers.Load(lang)
	if !ok {
		p, _ = printers.LoadOrStore(lang, message.NewPrinter(lang))
	}
	printer := p.(*message.Printer)
	if base, _ := lang.Base(); base.String() == "en" {
		return printer.Sprintf("€%v", number.Decimal(amount, number.Scale(2)))
	}
	return printer.Sprintf("%v €", number.Decimal(amount, number.Scale(2)))
}
