package valueobject

import (
	"fmt"
	"math"
	"strings"

	"github.com/ignatzorin/msme-escrow/internal/pkg/apperror"
)

// Region: страна, в которой работает заказ; определяет валюту и шлюз.
type Region string

const (
	RegionKenya    Region = "KE"
	RegionTanzania Region = "TZ"
)

var regionCurrencies = map[Region]string{
	RegionKenya:    "KES",
	RegionTanzania: "TZS",
}

var regionDialCodes = map[Region]string{
	RegionKenya:    "254",
	RegionTanzania: "255",
}

func NewRegion(v string) (Region, error) {
	r := Region(strings.ToUpper(strings.TrimSpace(v)))
	if _, ok := regionCurrencies[r]; !ok {
		return "", apperror.New(apperror.ErrCodeValidation, "регион не поддерживается")
	}
	return r, nil
}

func (r Region) Currency() string {
	return regionCurrencies[r]
}

// NormalizePhone приводит номер к международному формату без "+": 0712345678 → 254712345678.
func (r Region) NormalizePhone(phone string) (string, error) {
	code, ok := regionDialCodes[r]
	if !ok {
		return "", apperror.New(apperror.ErrCodeValidation, "регион не поддерживается")
	}

	p := strings.NewReplacer(" ", "", "-", "", "+", "").Replace(strings.TrimSpace(phone))
	switch {
	case strings.HasPrefix(p, code):
	case strings.HasPrefix(p, "0"):
		p = code + p[1:]
	case len(p) == 9:
		p = code + p
	}

	if len(p) != len(code)+9 {
		return "", apperror.New(apperror.ErrCodeValidation, "неверный номер телефона")
	}
	for _, ch := range p {
		if ch < '0' || ch > '9' {
			return "", apperror.New(apperror.ErrCodeValidation, "неверный номер телефона")
		}
	}
	return p, nil
}

type Money struct {
	Amount   float64
	Currency string
}

// NewMoney проверяет, что сумма положительна и не превышает двух знаков после запятой.
func NewMoney(amount float64, currency string) (Money, error) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return Money{}, apperror.New(apperror.ErrCodeValidation, "сумма должна быть положительной")
	}
	if currency == "" {
		return Money{}, apperror.New(apperror.ErrCodeValidation, "валюта обязательна")
	}
	return Money{Amount: math.Round(amount*100) / 100, Currency: currency}, nil
}

// GatewayAmount возвращает сумму в целых единицах, как её принимает мобильный шлюз.
func (m Money) GatewayAmount() int64 {
	return int64(math.Ceil(m.Amount))
}

func (m Money) String() string {
	return fmt.Sprintf("%s %.2f", m.Currency, m.Amount)
}
