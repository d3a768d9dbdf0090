package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/orders/internal/domain"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	productsCollection        = "products"
	couponsCollection         = "coupons"
	shippingMethodsCollection = "shippingMethods"
)

// ProductRepository reads catalogue products and writes their stock counters.
type ProductRepository struct {
	base *pfirestore.Collection[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		base: pfirestore.NewCollection[productDocument](provider, productsCollection),
	}, nil
}

// FindByID loads the product document.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return decodeProduct(doc.ID, doc.Data), nil
}

// UpdateStock writes only the stock related fields so catalogue edits made elsewhere survive.
func (r *ProductRepository) UpdateStock(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	productID := strings.TrimSpace(product.ID)
	if productID == "" {
		return errors.New("product repository: product id is required")
	}
	updatedAt := product.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	updates := []firestore.Update{
		{Path: "stock", Value: product.Stock},
		{Path: "soldCount", Value: product.SoldCount},
		{Path: "updatedAt", Value: updatedAt},
	}
	if len(product.Variations) > 0 {
		updates = append(updates, firestore.Update{Path: "variations", Value: encodeVariations(product.Variations)})
	}
	return r.base.Update(ctx, productID, updates)
}

// CouponRepository persists coupons keyed by their upper-cased code.
type CouponRepository struct {
	base *pfirestore.Collection[couponDocument]
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	return &CouponRepository{
		base: pfirestore.NewCollection[couponDocument](provider, couponsCollection),
	}, nil
}

// FindByCode loads a coupon by code. Callers normalise the code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.base == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Coupon{}, errors.New("coupon repository: code is required")
	}
	doc, err := r.base.Get(ctx, code)
	if err != nil {
		return domain.Coupon{}, err
	}
	return decodeCoupon(doc.ID, doc.Data), nil
}

// UpdateUsage overwrites the usage counter.
func (r *CouponRepository) UpdateUsage(ctx context.Context, code string, usedCount int, updatedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("coupon repository not initialised")
	}
	if usedCount < 0 {
		usedCount = 0
	}
	return r.base.Update(ctx, strings.TrimSpace(code), []firestore.Update{
		{Path: "usedCount", Value: usedCount},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	})
}

// ShippingMethodRepository reads shipping options.
type ShippingMethodRepository struct {
	base *pfirestore.Collection[shippingMethodDocument]
}

// NewShippingMethodRepository constructs a Firestore-backed shipping method repository.
func NewShippingMethodRepository(provider *pfirestore.Provider) (*ShippingMethodRepository, error) {
	if provider == nil {
		return nil, errors.New("shipping method repository requires firestore provider")
	}
	return &ShippingMethodRepository{
		base: pfirestore.NewCollection[shippingMethodDocument](provider, shippingMethodsCollection),
	}, nil
}

// FindByID loads the shipping method.
func (r *ShippingMethodRepository) FindByID(ctx context.Context, methodID string) (domain.ShippingMethod, error) {
	if r == nil || r.base == nil {
		return domain.ShippingMethod{}, errors.New("shipping method repository not initialised")
	}
	methodID = strings.TrimSpace(methodID)
	if methodID == "" {
		return domain.ShippingMethod{}, errors.New("shipping method repository: id is required")
	}
	doc, err := r.base.Get(ctx, methodID)
	if err != nil {
		return domain.ShippingMethod{}, err
	}
	return domain.ShippingMethod{
		ID:            doc.ID,
		Name:          doc.Data.Name,
		Price:         doc.Data.Price,
		EstimatedDays: doc.Data.EstimatedDays,
		IsActive:      doc.Data.IsActive,
	}, nil
}

type productDocument struct {
	Name           string              `firestore:"name"`
	SKU            string              `firestore:"sku,omitempty"`
	Image          string              `firestore:"image,omitempty"`
	Price          int64               `firestore:"price"`
	Stock          int                 `firestore:"stock"`
	SoldCount      int                 `firestore:"soldCount"`
	IsActive       bool                `firestore:"isActive"`
	Status         string              `firestore:"status,omitempty"`
	AttributeNames []string            `firestore:"attributeNames,omitempty"`
	Variations     []variationDocument `firestore:"variations,omitempty"`
	UpdatedAt      time.Time           `firestore:"updatedAt"`
}

type variationDocument struct {
	ID         string              `firestore:"id"`
	SKU        string              `firestore:"sku,omitempty"`
	Price      int64               `firestore:"price"`
	Stock      int                 `firestore:"stock"`
	Image      string              `firestore:"image,omitempty"`
	Attributes []attributeDocument `firestore:"attributes,omitempty"`
}

type couponDocument struct {
	Type           string     `firestore:"type"`
	Value          int64      `firestore:"value"`
	MaxDiscount    *int64     `firestore:"maxDiscount,omitempty"`
	MinOrderAmount int64      `firestore:"minOrderAmount"`
	MaxUses        *int       `firestore:"maxUses,omitempty"`
	UsedCount      int        `firestore:"usedCount"`
	ValidFrom      *time.Time `firestore:"validFrom,omitempty"`
	ValidUntil     *time.Time `firestore:"validUntil,omitempty"`
	IsActive       bool       `firestore:"isActive"`
	Description    string     `firestore:"description,omitempty"`
	CreatedAt      time.Time  `firestore:"createdAt"`
	UpdatedAt      time.Time  `firestore:"updatedAt"`
}

type shippingMethodDocument struct {
	Name          string `firestore:"name"`
	Price         int64  `firestore:"price"`
	EstimatedDays string `firestore:"estimatedDays,omitempty"`
	IsActive      bool   `firestore:"isActive"`
}

func decodeProduct(id string, doc productDocument) domain.Product {
	product := domain.Product{
		ID:             id,
		Name:           doc.Name,
		SKU:            doc.SKU,
		Image:          doc.Image,
		Price:          doc.Price,
		Stock:          doc.Stock,
		SoldCount:      doc.SoldCount,
		IsActive:       doc.IsActive,
		Status:         domain.ProductStatus(doc.Status),
		AttributeNames: append([]string(nil), doc.AttributeNames...),
		UpdatedAt:      doc.UpdatedAt.UTC(),
	}
	for _, variation := range doc.Variations {
		product.Variations = append(product.Variations, domain.Variation{
			ID:         variation.ID,
			SKU:        variation.SKU,
			Price:      variation.Price,
			Stock:      variation.Stock,
			Image:      variation.Image,
			Attributes: decodeAttributes(variation.Attributes),
		})
	}
	return product
}

func encodeVariations(variations []domain.Variation) []variationDocument {
	out := make([]variationDocument, 0, len(variations))
	for _, variation := range variations {
		out = append(out, variationDocument{
			ID:         variation.ID,
			SKU:        variation.SKU,
			Price:      variation.Price,
			Stock:      variation.Stock,
			Image:      variation.Image,
			Attributes: encodeAttributes(variation.Attributes),
		})
	}
	return out
}

func decodeCoupon(code string, doc couponDocument) domain.Coupon {
	return domain.Coupon{
		Code:           code,
		Type:           domain.CouponType(doc.Type),
		Value:          doc.Value,
		MaxDiscount:    doc.MaxDiscount,
		MinOrderAmount: doc.MinOrderAmount,
		MaxUses:        doc.MaxUses,
		UsedCount:      doc.UsedCount,
		ValidFrom:      utcPtr(doc.ValidFrom),
		ValidUntil:     utcPtr(doc.ValidUntil),
		IsActive:       doc.IsActive,
		Description:    doc.Description,
		CreatedAt:      doc.CreatedAt.UTC(),
		UpdatedAt:      doc.UpdatedAt.UTC(),
	}
}

var (
	_ repositories.ProductRepository        = (*ProductRepository)(nil)
	_ repositories.CouponRepository         = (*CouponRepository)(nil)
	_ repositories.ShippingMethodRepository = (*ShippingMethodRepository)(nil)
)
