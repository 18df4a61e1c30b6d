package render

import (
	"errors"
	"fmt"
	"html/template"

	"github.com/example/emailservice/internal/models"
)

const nanosPerUnit = 1_000_000_000

var (
	errMissingAmount = errors.New("amount is missing")
	errMissingItem   = errors.New("order item is missing")
)

func funcs() template.FuncMap {
	return template.FuncMap{
		"money":      formatMoney,
		"lineTotal":  lineTotal,
		"orderTotal": orderTotal,
	}
}

// formatMoney renders an amount as "USD 12.30". Nanos below a cent are
// truncated.
func formatMoney(m *models.Money) (string, error) {
	if m == nil {
		return "", errMissingAmount
	}
	units, nanos := m.Units, int64(m.Nanos)
	sign := ""
	if units < 0 || nanos < 0 {
		sign = "-"
		units, nanos = -units, -nanos
	}
	return fmt.Sprintf("%s %s%d.%02d", m.CurrencyCode, sign, units, nanos/10_000_000), nil
}

func lineTotal(item *models.OrderItem) (string, error) {
	total, err := itemCost(item)
	if err != nil {
		return "", err
	}
	return formatMoney(total)
}

// orderTotal sums every line and the shipping cost. All amounts must share
// one currency.
func orderTotal(order *models.Order) (string, error) {
	if order == nil {
		return "", errors.New("order is missing")
	}
	if order.ShippingCost == nil {
		return "", fmt.Errorf("shipping cost: %w", errMissingAmount)
	}
	total := *order.ShippingCost
	for i, item := range order.Items {
		line, err := itemCost(item)
		if err != nil {
			return "", fmt.Errorf("item %d: %w", i, err)
		}
		sum, err := addMoney(&total, line)
		if err != nil {
			return "", fmt.Errorf("item %d: %w", i, err)
		}
		total = *sum
	}
	return formatMoney(&total)
}

func itemCost(item *models.OrderItem) (*models.Money, error) {
	if item == nil || item.Item == nil {
		return nil, errMissingItem
	}
	if item.Cost == nil {
		return nil, fmt.Errorf("cost of %s: %w", item.Item.ProductID, errMissingAmount)
	}
	q := int64(item.Item.Quantity)
	return normalize(item.Cost.CurrencyCode, item.Cost.Units*q, int64(item.Cost.Nanos)*q), nil
}

func addMoney(a, b *models.Money) (*models.Money, error) {
	if a.CurrencyCode != b.CurrencyCode {
		return nil, fmt.Errorf("currency mismatch: %s and %s", a.CurrencyCode, b.CurrencyCode)
	}
	return normalize(a.CurrencyCode, a.Units+b.Units, int64(a.Nanos)+int64(b.Nanos)), nil
}

// normalize carries whole units out of nanos and aligns the signs of the two
// parts.
func normalize(code string, units, nanos int64) *models.Money {
	units += nanos / nanosPerUnit
	nanos %= nanosPerUnit
	if units > 0 && nanos < 0 {
		units--
		nanos += nanosPerUnit
	} else if units < 0 && nanos > 0 {
		units++
		nanos -= nanosPerUnit
	}
	return &models.Money{CurrencyCode: code, Units: units, Nanos: int32(nanos)}
}
