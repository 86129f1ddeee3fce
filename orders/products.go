package orders

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ProductSide is an optional extra offered with a product.
type ProductSide struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

// ProductItem is a product on a merchant's menu. Prices are decimal strings
// in the merchant's currency.
type ProductItem struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	SKU          *string       `json:"sku,omitempty"`
	Price        string        `json:"price"`
	Discount     *string       `json:"discount,omitempty"`
	Order        int           `json:"order"`
	Category     string        `json:"category"`
	Details      string        `json:"details"`
	Description  string        `json:"description"`
	ImageURL     *string       `json:"image_url,omitempty"`
	ThumbnailURL *string       `json:"thumbnail_url,omitempty"`
	Sides        []ProductSide `json:"sides"`
}

// PriceDecimal parses the item price.
func (p *ProductItem) PriceDecimal() (decimal.Decimal, error) {
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q: %v", ErrInvalidPrice,
			p.Price, err)
	}
	if price.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidPrice,
			p.Price)
	}

	return price, nil
}

// ProductOrder is the buyer's cart. A product appears once per unit ordered.
type ProductOrder struct {
	Products []ProductItem `json:"products"`
}

// Total sums the prices of all items in the cart.
func (o *ProductOrder) Total() (decimal.Decimal, error) {
	total := decimal.Zero
	for i := range o.Products {
		price, err := o.Products[i].PriceDecimal()
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(price)
	}

	return total, nil
}

// CountedProduct is a distinct cart product with its quantity.
type CountedProduct struct {
	Product  ProductItem
	Quantity uint32
}

// Counted groups the cart by product id, in menu order.
func (o *ProductOrder) Counted() []CountedProduct {
	index := make(map[string]int)
	var counted []CountedProduct
	for _, p := range o.Products {
		if i, ok := index[p.ID]; ok {
			counted[i].Quantity++
			continue
		}
		index[p.ID] = len(counted)
		counted = append(counted, CountedProduct{
			Product:  p,
			Quantity: 1,
		})
	}

	sort.SliceStable(counted, func(i, j int) bool {
		return counted[i].Product.Order < counted[j].Product.Order
	})

	return counted
}

// ProductCategory groups menu items.
type ProductCategory struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Order    int           `json:"order"`
	Products []ProductItem `json:"products"`
}

// ProductMenu is the content of a merchant's menu note.
type ProductMenu struct {
	Categories []ProductCategory `json:"categories"`
}

// ParseProductMenu decodes a menu note content.
func ParseProductMenu(content string) (*ProductMenu, error) {
	var menu ProductMenu
	if err := json.Unmarshal([]byte(content), &menu); err != nil {
		return nil, err
	}

	return &menu, nil
}

// Find returns the menu item with the given id.
func (m *ProductMenu) Find(id string) (*ProductItem, bool) {
	for i := range m.Categories {
		products := m.Categories[i].Products
		for j := range products {
			if products[j].ID == id {
				return &products[j], true
			}
		}
	}

	return nil, false
}

// Validate checks that every ordered product is on the menu at the menu
// price.
func (m *ProductMenu) Validate(order *ProductOrder) error {
	if len(order.Products) == 0 {
		return ErrEmptyOrder
	}

	for i := range order.Products {
		ordered := &order.Products[i]

		listed, ok := m.Find(ordered.ID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownProduct, ordered.ID)
		}

		orderedPrice, err := ordered.PriceDecimal()
		if err != nil {
			return err
		}
		listedPrice, err := listed.PriceDecimal()
		if err != nil {
			return err
		}
		if !orderedPrice.Equal(listedPrice) {
			return fmt.Errorf("%w: %s ordered at %s, listed at %s",
				ErrPriceMismatch, ordered.ID, ordered.Price,
				listed.Price)
		}
	}

	return nil
}
