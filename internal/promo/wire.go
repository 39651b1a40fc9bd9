package promo

import (
	"fmt"
	"math"
	"strings"

	"github.com/noah-isme/dental-quote/internal/pricing"
)

// Discount types used on the promo validation wire contract.
const (
	DiscountTypePercentage  = "percentage"
	DiscountTypeFixedAmount = "fixed_amount"
)

// ValidateRequest is the body sent to the promo validation service.
type ValidateRequest struct {
	Code         string   `json:"code" validate:"required,max=64"`
	TreatmentIDs []string `json:"treatmentIds" validate:"omitempty,max=200,dive,required"`
}

// ValidateResponse is returned by the promo validation service. For percentage
// discounts DiscountValue is a percent (50 = 50%); for fixed amounts it is minor units.
type ValidateResponse struct {
	Valid         bool         `json:"valid"`
	Code          string       `json:"code,omitempty"`
	DiscountType  string       `json:"discountType,omitempty"`
	DiscountValue float64      `json:"discountValue"`
	IsPackage     bool         `json:"isPackage"`
	PackageData   *PackageData `json:"packageData,omitempty"`
	Message       string       `json:"message,omitempty"`
}

// PackageData carries authoritative package pricing.
type PackageData struct {
	Name          string         `json:"name"`
	Lines         []pricing.Line `json:"lines"`
	PackagePrice  int64          `json:"packagePrice"`
	OriginalPrice int64          `json:"originalPrice"`
}

// ResponseFromRule renders a resolved rule on the wire.
func ResponseFromRule(rule pricing.Rule) ValidateResponse {
	resp := ValidateResponse{Valid: true, Code: rule.Code}
	switch rule.Kind {
	case pricing.KindPercentage:
		resp.DiscountType = DiscountTypePercentage
		resp.DiscountValue = float64(rule.PercentBps) / 100
	case pricing.KindFixedAmount:
		resp.DiscountType = DiscountTypeFixedAmount
		resp.DiscountValue = float64(rule.Amount)
	case pricing.KindPackage:
		resp.IsPackage = true
		resp.DiscountType = DiscountTypeFixedAmount
		resp.DiscountValue = float64(rule.Package.OriginalPrice - rule.Package.PackagePrice)
		resp.PackageData = &PackageData{
			Name:          rule.Package.Name,
			Lines:         pricing.CloneLines(rule.Package.Lines),
			PackagePrice:  rule.Package.PackagePrice,
			OriginalPrice: rule.Package.OriginalPrice,
		}
	}
	return resp
}

// Rule converts a valid response into a typed rule. Callers must check Valid first.
func (r ValidateResponse) Rule(code string) (pricing.Rule, error) {
	code = NormalizeCode(code)
	var rule pricing.Rule
	switch {
	case r.IsPackage:
		if r.PackageData == nil {
			return pricing.Rule{}, fmt.Errorf("package response without packageData: %w", pricing.ErrInvalidRule)
		}
		rule = pricing.FixedPrice(code, pricing.Package{
			Name:          r.PackageData.Name,
			Lines:         pricing.CloneLines(r.PackageData.Lines),
			PackagePrice:  r.PackageData.PackagePrice,
			OriginalPrice: r.PackageData.OriginalPrice,
		})
	case strings.EqualFold(r.DiscountType, DiscountTypePercentage):
		rule = pricing.Percentage(code, PercentToBps(r.DiscountValue))
	case strings.EqualFold(r.DiscountType, DiscountTypeFixedAmount):
		if r.DiscountValue != math.Trunc(r.DiscountValue) {
			return pricing.Rule{}, fmt.Errorf("fractional minor units %v: %w", r.DiscountValue, pricing.ErrInvalidRule)
		}
		rule = pricing.FixedAmount(code, int64(r.DiscountValue))
	default:
		return pricing.Rule{}, fmt.Errorf("unknown discount type %q: %w", r.DiscountType, pricing.ErrInvalidRule)
	}
	if err := rule.Validate(); err != nil {
		return pricing.Rule{}, err
	}
	return rule, nil
}
