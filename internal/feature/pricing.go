package feature

import (
	"errors"
	"math"

	"entitlement-server/internal/model"
)

type PriceInput struct {
	Cost     float64 `json:"cost"`
	Formula  string  `json:"formula"`
	Discount float64 `json:"discount"`
}

type PriceResult struct {
	OriginalCost    float64 `json:"originalCost"`
	CalculatedPrice float64 `json:"calculatedPrice"`
	Discount        float64 `json:"discount"`
	FinalPrice      float64 `json:"finalPrice"`
}

var ErrInvalidPriceInput = errors.New("成本必须为非负数，折扣必须在 0 到 100 之间")

// AdjustPrice 服务端定价：默认加价 50%，premium 加价 30%，结果向上取整到分。
func AdjustPrice(in PriceInput, tier model.Tier) (PriceResult, error) {
	if in.Cost < 0 || in.Discount < 0 || in.Discount > 100 {
		return PriceResult{}, ErrInvalidPriceInput
	}

	markup := 1.5
	if tier == model.TierPremium {
		markup = 1.3
	}

	price := ceilCents(in.Cost * markup)
	final := price
	if in.Discount > 0 {
		final = price * (1 - in.Discount/100)
	}

	return PriceResult{
		OriginalCost:    in.Cost,
		CalculatedPrice: price,
		Discount:        in.Discount,
		FinalPrice:      ceilCents(final),
	}, nil
}

func ceilCents(v float64) float64 {
	// 先舍入到百万分之一分，避免 1.1*100 这类浮点误差被向上取整
	scaled := math.Round(v*100*1e6) / 1e6
	return math.Ceil(scaled) / 100
}
