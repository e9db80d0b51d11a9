package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"github.com/hanko-field/storefront/internal/catalog"
	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/pagination"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	defaultImageURLTTL  = 15 * time.Minute
	imageSignerParallel = 8
	maxSearchLength     = 100
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied an invalid filter or product reference.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrCatalogNotFound indicates the product does not exist.
	ErrCatalogNotFound = errors.New("catalog service: not found")
	// ErrCatalogUnavailable indicates the catalog backend failed.
	ErrCatalogUnavailable = errors.New("catalog service: unavailable")
)

// ProductFilter carries the listing query as received from the client. PriceRanges holds option ids
// such as "lt25".
type ProductFilter struct {
	CategoryID  *int64
	Search      string
	PriceRanges []string
	OnSale      bool
	Sort        string
	PageSize    int
	Offset      int
	Lang        string
}

// ProductView is a product with localised prices and signed image URLs.
type ProductView struct {
	Product
	Price     string
	OldPrice  string
	ImageURLs []string
}

// ProductListing is one page of products.
type ProductListing struct {
	Items         []ProductView
	Total         int
	NextPageToken string
}

// ProductDetail adds the rendered description to a product view.
type ProductDetail struct {
	ProductView
	DescriptionHTML string
}

// CatalogOption is a selectable filter value with its localised label.
type CatalogOption struct {
	ID    string
	Label string
}

// CatalogOptions lists the filters a client may offer.
type CatalogOptions struct {
	PriceRanges []CatalogOption
	Sorts       []CatalogOption
}

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products        repositories.ProductRepository
	Options         *catalog.Options
	Renderer        *catalog.DescriptionRenderer
	Images          ImageURLSigner
	ImageURLTTL     time.Duration
	DefaultLanguage language.Tag
	Logger          func(context.Context, string, map[string]any)
}

type catalogService struct {
	products    repositories.ProductRepository
	options     *catalog.Options
	renderer    *catalog.DescriptionRenderer
	images      ImageURLSigner
	imageTTL    time.Duration
	defaultLang language.Tag
	logger      func(context.Context, string, map[string]any)
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	opts := deps.Options
	if opts == nil {
		var err error
		if opts, err = catalog.DefaultOptions(); err != nil {
			return nil, fmt.Errorf("catalog service: %w", err)
		}
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = catalog.NewDescriptionRenderer()
	}
	ttl := deps.ImageURLTTL
	if ttl <= 0 {
		ttl = defaultImageURLTTL
	}
	lang := deps.DefaultLanguage
	if lang == language.Und {
		lang = language.French
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{
		products:    deps.Products,
		options:     opts,
		renderer:    renderer,
		images:      deps.Images,
		imageTTL:    ttl,
		defaultLang: lang,
		logger:      logger,
	}, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductFilter) (ProductListing, error) {
	query, err := s.buildQuery(filter)
	if err != nil {
		return ProductListing{}, err
	}
	page, err := s.products.List(ctx, query)
	if err != nil {
		return ProductListing{}, translateCatalogError(err)
	}

	lang := catalog.MatchLanguage(filter.Lang, s.defaultLang)
	views, err := s.views(ctx, page.Items, lang)
	if err != nil {
		return ProductListing{}, err
	}

	listing := ProductListing{Items: views, Total: page.Total}
	if page.NextOffset > 0 {
		token, err := pagination.EncodeToken(pagination.Cursor{Offset: page.NextOffset})
		if err != nil {
			return ProductListing{}, fmt.Errorf("catalog service: encode page token: %w", err)
		}
		listing.NextPageToken = token
	}
	return listing, nil
}

// GetProduct accepts a numeric id or a slug.
func (s *catalogService) GetProduct(ctx context.Context, ref string, lang string) (ProductDetail, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ProductDetail{}, fmt.Errorf("%w: product reference is required", ErrCatalogInvalidInput)
	}

	var (
		product Product
		err     error
	)
	if id, parseErr := strconv.ParseInt(ref, 10, 64); parseErr == nil {
		if id <= 0 {
			return ProductDetail{}, fmt.Errorf("%w: product id must be positive", ErrCatalogInvalidInput)
		}
		product, err = s.products.Get(ctx, id)
	} else {
		product, err = s.products.GetBySlug(ctx, strings.ToLower(ref))
	}
	if err != nil {
		return ProductDetail{}, translateCatalogError(err)
	}

	tag := catalog.MatchLanguage(lang, s.defaultLang)
	views, err := s.views(ctx, []Product{product}, tag)
	if err != nil {
		return ProductDetail{}, err
	}
	html, err := s.renderer.Render(product.Description)
	if err != nil {
		s.logger(ctx, "catalog.description_render_failed", map[string]any{"productId": product.ID, "error": err.Error()})
	}
	return ProductDetail{ProductView: views[0], DescriptionHTML: html}, nil
}

func (s *catalogService) Options(_ context.Context, lang string) (CatalogOptions, error) {
	tag := catalog.MatchLanguage(lang, s.defaultLang)
	out := CatalogOptions{
		PriceRanges: make([]CatalogOption, 0, len(s.options.PriceRanges)),
		Sorts:       make([]CatalogOption, 0, len(s.options.Sorts)),
	}
	for _, pr := range s.options.PriceRanges {
		out.PriceRanges = append(out.PriceRanges, CatalogOption{ID: pr.ID, Label: s.options.PriceRangeLabel(pr.ID, tag)})
	}
	for _, sort := range s.options.Sorts {
		out.Sorts = append(out.Sorts, CatalogOption{ID: string(sort.ID), Label: sort.Label(tag)})
	}
	return out, nil
}

func (s *catalogService) buildQuery(filter ProductFilter) (domain.ProductQuery, error) {
	query := domain.ProductQuery{
		CategoryID: filter.CategoryID,
		Search:     strings.TrimSpace(filter.Search),
		OnSale:     filter.OnSale,
		Sort:       domain.SortRecommended,
		PageSize:   filter.PageSize,
		Offset:     filter.Offset,
	}
	if query.CategoryID != nil && *query.CategoryID <= 0 {
		return domain.ProductQuery{}, fmt.Errorf("%w: category must be positive", ErrCatalogInvalidInput)
	}
	if len(query.Search) > maxSearchLength {
		return domain.ProductQuery{}, fmt.Errorf("%w: search is too long", ErrCatalogInvalidInput)
	}
	if query.PageSize <= 0 {
		query.PageSize = pagination.DefaultPageSize
	}
	if query.Offset < 0 {
		return domain.ProductQuery{}, fmt.Errorf("%w: offset must not be negative", ErrCatalogInvalidInput)
	}
	if sort := strings.TrimSpace(filter.Sort); sort != "" {
		option := domain.SortOption(strings.ToLower(sort))
		if !s.options.ValidSort(option) {
			return domain.ProductQuery{}, fmt.Errorf("%w: unknown sort %q", ErrCatalogInvalidInput, sort)
		}
		query.Sort = option
	}
	ranges, err := s.options.ResolvePriceRanges(filter.PriceRanges)
	if err != nil {
		return domain.ProductQuery{}, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
	}
	query.PriceRanges = ranges
	return query, nil
}

// views formats prices and signs every image concurrently. Images that fail to sign are dropped
// from the view.
func (s *catalogService) views(ctx context.Context, products []Product, lang language.Tag) ([]ProductView, error) {
	views := make([]ProductView, len(products))
	for i, product := range products {
		views[i] = ProductView{
			Product:   product,
			Price:     catalog.FormatPrice(lang, product.PriceCurrent),
			ImageURLs: make([]string, len(product.Images)),
		}
		if product.PriceOld != nil {
			views[i].OldPrice = catalog.FormatPrice(lang, *product.PriceOld)
		}
	}
	if s.images == nil {
		for i := range views {
			views[i].ImageURLs = nil
		}
		return views, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(imageSignerParallel)
	for i := range views {
		for j, image := range views[i].Images {
			g.Go(func() error {
				url, err := s.images.SignedURL(gctx, image.Path, s.imageTTL)
				if err != nil {
					if ctxErr := gctx.Err(); ctxErr != nil {
						return ctxErr
					}
					s.logger(ctx, "catalog.image_sign_failed", map[string]any{
						"productId": views[i].ID,
						"path":      image.Path,
						"error":     err.Error(),
					})
					return nil
				}
				mu.Lock()
				views[i].ImageURLs[j] = url
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i := range views {
		urls := views[i].ImageURLs[:0]
		for _, url := range views[i].ImageURLs {
			if url != "" {
				urls = append(urls, url)
			}
		}
		views[i].ImageURLs = urls
	}
	return views, nil
}

func translateCatalogError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isRepoNotFound(err) {
		return ErrCatalogNotFound
	}
	return errors.Join(ErrCatalogUnavailable, err)
}
