// Package catalog holds the storefront's catalog presentation rules: filter options, localisation
// and product description rendering.
package catalog

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	domain "github.com/hanko-field/storefront/internal/domain"
)

//go:embed options.yaml
var optionsYAML []byte

var supportedLanguages = []language.Tag{language.French, language.English}

var languageMatcher = language.NewMatcher(supportedLanguages)

// Options lists the price ranges and sort orders a client may select.
type Options struct {
	PriceRanges []domain.PriceRange
	Sorts       []SortChoice

	rangeLabels map[string]map[string]string
	byRange     map[string]domain.PriceRange
}

// SortChoice is a selectable ordering with localised labels.
type SortChoice struct {
	ID     domain.SortOption
	labels map[string]string
}

// Label returns the label for lang, falling back to French.
func (s SortChoice) Label(lang language.Tag) string {
	return pickLabel(s.labels, lang)
}

type optionsFile struct {
	PriceRanges []struct {
		ID     string            `yaml:"id"`
		Labels map[string]string `yaml:"labels"`
		Min    *boundFile        `yaml:"min"`
		Max    *boundFile        `yaml:"max"`
	} `yaml:"price_ranges"`
	Sorts []struct {
		ID     string            `yaml:"id"`
		Labels map[string]string `yaml:"labels"`
	} `yaml:"sorts"`
}

type boundFile struct {
	Value     float64 `yaml:"value"`
	Inclusive bool    `yaml:"inclusive"`
}

var loadDefault = sync.OnceValues(func() (*Options, error) {
	return ParseOptions(optionsYAML)
})

// DefaultOptions returns the embedded option set.
func DefaultOptions() (*Options, error) {
	return loadDefault()
}

// ParseOptions decodes an options document.
func ParseOptions(raw []byte) (*Options, error) {
	var file optionsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("catalog: parse options: %w", err)
	}
	opts := &Options{
		rangeLabels: make(map[string]map[string]string, len(file.PriceRanges)),
		byRange:     make(map[string]domain.PriceRange, len(file.PriceRanges)),
	}
	for _, r := range file.PriceRanges {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog: price range without id")
		}
		if _, dup := opts.byRange[id]; dup {
			return nil, fmt.Errorf("catalog: duplicate price range %q", id)
		}
		pr := domain.PriceRange{ID: id, Label: r.Labels["fr"]}
		if r.Min != nil {
			pr.Min = &domain.PriceBound{Value: r.Min.Value, Inclusive: r.Min.Inclusive}
		}
		if r.Max != nil {
			pr.Max = &domain.PriceBound{Value: r.Max.Value, Inclusive: r.Max.Inclusive}
		}
		opts.PriceRanges = append(opts.PriceRanges, pr)
		opts.byRange[id] = pr
		opts.rangeLabels[id] = r.Labels
	}
	for _, s := range file.Sorts {
		opts.Sorts = append(opts.Sorts, SortChoice{ID: domain.SortOption(strings.TrimSpace(s.ID)), labels: s.Labels})
	}
	return opts, nil
}

// PriceRange looks up a range by id.
func (o *Options) PriceRange(id string) (domain.PriceRange, bool) {
	pr, ok := o.byRange[strings.TrimSpace(id)]
	return pr, ok
}

// ResolvePriceRanges maps ids to ranges, reporting the first unknown id.
func (o *Options) ResolvePriceRanges(ids []string) ([]domain.PriceRange, error) {
	out := make([]domain.PriceRange, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		pr, ok := o.byRange[id]
		if !ok {
			return nil, fmt.Errorf("unknown price range %q", id)
		}
		seen[id] = struct{}{}
		out = append(out, pr)
	}
	return out, nil
}

// ValidSort reports whether option names a known ordering.
func (o *Options) ValidSort(option domain.SortOption) bool {
	for _, s := range o.Sorts {
		if s.ID == option {
			return true
		}
	}
	return false
}

// PriceRangeLabel returns the localised label of a range.
func (o *Options) PriceRangeLabel(id string, lang language.Tag) string {
	return pickLabel(o.rangeLabels[id], lang)
}

// MatchLanguage picks the best supported language for an Accept-Language header value.
func MatchLanguage(acceptLanguage string, fallback language.Tag) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return fallback
	}
	_, idx, confidence := languageMatcher.Match(tags...)
	if confidence == language.No {
		return fallback
	}
	return supportedLanguages[idx]
}

// ParseLanguage parses a configured default locale; unknown values fall back to French.
func ParseLanguage(tag string) language.Tag {
	parsed, err := language.Parse(strings.ReplaceAll(strings.TrimSpace(tag), "_", "-"))
	if err != nil {
		return language.French
	}
	_, idx, _ := languageMatcher.Match(parsed)
	return supportedLanguages[idx]
}

func pickLabel(labels map[string]string, lang language.Tag) string {
	base, _ := lang.Base()
	if label, ok := labels[base.String()]; ok {
		return label
	}
	return labels["fr"]
}
