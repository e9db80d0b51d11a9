package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// MaxLineQuantity caps a single line item quantity so sums stay within int range on every platform.
const MaxLineQuantity = math.MaxInt32

// CartKey identifies a purchasable line item by product, size and color.
type CartKey string

// CartLineItem is one entry of a guest or remote cart.
type CartLineItem struct {
	ProductID int64   `json:"productId"`
	Size      *string `json:"size"`
	ColorID   *int64  `json:"colorId"`
	Quantity  int     `json:"quantity"`
}

// Key returns the composite identity of the item. Quantity is not part of it.
func (i CartLineItem) Key() CartKey {
	return BuildCartKey(i.ProductID, i.Size, i.ColorID)
}

// BuildCartKey renders the composite key "{productId}__{size}__{colorId}" with absent parts empty.
func BuildCartKey(productID int64, size *string, colorID *int64) CartKey {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(productID, 10))
	b.WriteString("__")
	if size != nil {
		b.WriteString(*size)
	}
	b.WriteString("__")
	if colorID != nil {
		b.WriteString(strconv.FormatInt(*colorID, 10))
	}
	return CartKey(b.String())
}

// ParseCartKey recovers the identity fields from a key built by BuildCartKey. The returned item has
// no quantity.
func ParseCartKey(key CartKey) (CartLineItem, bool) {
	raw := string(key)
	head, rest, ok := strings.Cut(raw, "__")
	if !ok {
		return CartLineItem{}, false
	}
	sep := strings.LastIndex(rest, "__")
	if sep < 0 {
		return CartLineItem{}, false
	}
	productID, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return CartLineItem{}, false
	}
	size := rest[:sep]
	item := CartLineItem{ProductID: productID, Size: NormalizeSize(&size)}
	if color := rest[sep+2:]; color != "" {
		colorID, err := strconv.ParseInt(color, 10, 64)
		if err != nil {
			return CartLineItem{}, false
		}
		item.ColorID = &colorID
	}
	return item, true
}

// NormalizeNumber converts loosely typed JSON values to a finite number.
// Booleans, nulls, blank strings and anything non-numeric report ok=false.
func NormalizeNumber(value any) (float64, bool) {
	var n float64
	switch v := value.(type) {
	case nil, bool:
		return 0, false
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int32:
		n = float64(v)
	case int64:
		n = float64(v)
	case json.Number:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v.String()), 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// NormalizeID converts a value to an integral identifier; fractional values are rejected.
func NormalizeID(value any) (int64, bool) {
	n, ok := NormalizeNumber(value)
	if !ok || n != math.Trunc(n) || n > math.MaxInt64 || n < math.MinInt64 {
		return 0, false
	}
	return int64(n), true
}

// NormalizeQuantity maps any input to a positive integer: invalid or non-positive values become 1,
// fractions truncate toward zero.
func NormalizeQuantity(value any) int {
	n, ok := NormalizeNumber(value)
	if !ok || n <= 0 {
		return 1
	}
	n = math.Floor(n)
	if n < 1 {
		return 1
	}
	if n > MaxLineQuantity {
		return MaxLineQuantity
	}
	return int(n)
}

// NormalizeSize trims the size selector; blank values are absent.
func NormalizeSize(size *string) *string {
	if size == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*size)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// SanitizeCartEntry builds a line item from a decoded JSON object. The color may be supplied as
// colorId or color_id. Entries without a usable product id report ok=false.
func SanitizeCartEntry(entry map[string]any) (CartLineItem, bool) {
	if entry == nil {
		return CartLineItem{}, false
	}
	productID, ok := NormalizeID(entry["productId"])
	if !ok {
		return CartLineItem{}, false
	}

	item := CartLineItem{ProductID: productID}
	if raw, ok := entry["size"].(string); ok {
		item.Size = NormalizeSize(&raw)
	}

	colorRaw, present := entry["colorId"]
	if !present || colorRaw == nil {
		colorRaw = entry["color_id"]
	}
	if colorRaw != nil {
		if colorID, ok := NormalizeID(colorRaw); ok {
			item.ColorID = &colorID
		}
	}

	quantity, present := entry["quantity"]
	if !present || quantity == nil {
		quantity = 1
	}
	item.Quantity = NormalizeQuantity(quantity)
	return item, true
}

// SanitizeLineItem applies the storage normalisation rules to an already typed item.
func SanitizeLineItem(item CartLineItem) CartLineItem {
	out := CartLineItem{
		ProductID: item.ProductID,
		Size:      NormalizeSize(item.Size),
		Quantity:  NormalizeQuantity(item.Quantity),
	}
	if item.ColorID != nil {
		colorID := *item.ColorID
		out.ColorID = &colorID
	}
	return out
}

// SanitizeLineItems sanitises every item without collapsing duplicates.
func SanitizeLineItems(items []CartLineItem) []CartLineItem {
	out := make([]CartLineItem, 0, len(items))
	for _, item := range items {
		out = append(out, SanitizeLineItem(item))
	}
	return out
}

// CollapseLineItems merges entries sharing a key by summing their quantities. The first occurrence
// keeps its position in the output.
func CollapseLineItems(items []CartLineItem) []CartLineItem {
	out := make([]CartLineItem, 0, len(items))
	index := make(map[CartKey]int, len(items))
	for _, item := range items {
		key := item.Key()
		if pos, ok := index[key]; ok {
			out[pos].Quantity = AddQuantities(out[pos].Quantity, item.Quantity)
			continue
		}
		index[key] = len(out)
		out = append(out, item)
	}
	return out
}

// AddQuantities sums two quantities, saturating at MaxLineQuantity.
func AddQuantities(a, b int) int {
	sum := int64(a) + int64(b)
	if sum > MaxLineQuantity {
		return MaxLineQuantity
	}
	return int(sum)
}

// FindLineItem returns the position of the item with the given key or -1.
func FindLineItem(items []CartLineItem, key CartKey) int {
	for i, item := range items {
		if item.Key() == key {
			return i
		}
	}
	return -1
}

// StringPtr returns a pointer to a copy of value.
func StringPtr(value string) *string {
	return &value
}

// Int64Ptr returns a pointer to a copy of value.
func Int64Ptr(value int64) *int64 {
	return &value
}

// CartSummary is the cart view returned to clients.
type CartSummary struct {
	Items    []CartLine
	Count    int
	Subtotal float64
}

// CartLine decorates a line item with catalog data when the product is known.
type CartLine struct {
	CartLineItem
	Key     CartKey
	Product *Product
	Color   *ProductColor
}

// SummarizeCart attaches products and computes count and subtotal. Items referencing unknown
// products are kept in the count but contribute nothing to the subtotal.
func SummarizeCart(items []CartLineItem, products map[int64]Product) CartSummary {
	summary := CartSummary{Items: make([]CartLine, 0, len(items))}
	for _, item := range items {
		line := CartLine{CartLineItem: item, Key: item.Key()}
		if product, ok := products[item.ProductID]; ok {
			p := product
			line.Product = &p
			if item.ColorID != nil {
				line.Color = p.Color(*item.ColorID)
			}
			summary.Subtotal += float64(item.Quantity) * p.PriceCurrent
		}
		summary.Count += item.Quantity
		summary.Items = append(summary.Items, line)
	}
	summary.Subtotal = math.Round(summary.Subtotal*100) / 100
	return summary
}
