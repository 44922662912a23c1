package application

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/domain"
)

// 固定价目表，单位 VND
const (
	slUnit         = 1_000_000
	slPrice        = 100_000
	rpUnit         = 100_000
	rpPremiumPrice = 120_000
	rpRegularPrice = 140_000
	eventPrice     = 650_000
)

var modulPrices = map[string]float64{
	"TANK": 300_000,
	"AIR":  300_000,
	"HELI": 375_000,
	"SHIP": 400_000,
}

// QuotePrice 按固定价目表报价。quantity 中的非数字字符会被忽略，没有数字时按 1 计算。
func QuotePrice(serviceType, subType, quantity, premium string) (int64, error) {
	service := strings.ToUpper(strings.TrimSpace(serviceType))
	sub := strings.ToUpper(strings.TrimSpace(subType))
	qty, err := parseQuantity(quantity)
	if err != nil {
		return 0, err
	}

	var price float64
	switch service {
	case "SL":
		price = qty / slUnit * slPrice
	case "RP":
		unit := float64(rpRegularPrice)
		if strings.ToLower(strings.TrimSpace(premium)) == "yes" {
			unit = rpPremiumPrice
		}
		price = qty / rpUnit * unit
	case "EVENT":
		price = qty * eventPrice
	case "MODUL":
		p, ok := modulPrices[sub]
		if !ok {
			return 0, errors.Wrapf(domain.ErrValidation, "unknown MODUL type %q", subType)
		}
		price = qty * p
	default:
		return 0, errors.Wrapf(domain.ErrValidation, "unknown service type %q", serviceType)
	}
	// 超出 int64 的金额直接拒绝，避免转换后变成负数
	if math.IsNaN(price) || math.IsInf(price, 0) || price >= math.MaxInt64 {
		return 0, errors.Wrapf(domain.ErrValidation, "quantity %q is too large to price", quantity)
	}
	return int64(price), nil
}

func parseQuantity(s string) (float64, error) {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 1, nil
	}
	n, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0, errors.Wrapf(domain.ErrValidation, "quantity %q is out of range", s)
	}
	return n, nil
}
