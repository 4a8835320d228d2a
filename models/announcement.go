package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// RawEntry represents a single dividend announcement as delivered by the
// feed. Fields tagged required form the canonical minimum set; everything
// else is defaulted during validation.
type RawEntry struct {
	Ticker         string      `json:"ticker" validate:"required"`
	ExDividendDate string      `json:"ex_dividend_date" validate:"required"`
	RecordDate     string      `json:"record_date"`
	PayDate        string      `json:"pay_date" validate:"required"`
	DeclaredDate   string      `json:"declared_date"`
	CashAmount     json.Number `json:"cash_amount" validate:"required"`
	Currency       string      `json:"currency"`
	Frequency      json.Number `json:"frequency"`
	DividendType   string      `json:"dividend_type"`
}

// FeedPage is one page of the paginated feed response.
type FeedPage struct {
	Results []RawEntry `json:"results"`
	NextURL string     `json:"next_url"`
}

// Announcement is a validated dividend announcement. Dates are UTC midnight;
// the cash amount keeps exact decimal precision end to end.
type Announcement struct {
	Symbol         string
	ExDividendDate time.Time
	RecordDate     time.Time
	PayDate        time.Time
	DeclaredDate   time.Time
	CashAmount     decimal.Decimal
	Currency       string
	Frequency      string
	DividendType   string
}

// WireAnnouncement is the JSON representation served by the read endpoint.
type WireAnnouncement struct {
	Symbol         string `json:"symbol"`
	ExDividendDate string `json:"ex_dividend_date"`
	RecordDate     string `json:"record_date"`
	PayDate        string `json:"pay_date"`
	DeclaredDate   string `json:"declared_date"`
	CashAmount     string `json:"cash_amount"`
	Currency       string `json:"currency"`
	Frequency      string `json:"frequency,omitempty"`
	DividendType   string `json:"dividend_type,omitempty"`
}

// Wire converts the announcement to its API representation with YYYY-MM-DD
// date strings.
func (a Announcement) Wire() WireAnnouncement {
	return WireAnnouncement{
		Symbol:         a.Symbol,
		ExDividendDate: FormatDate(a.ExDividendDate),
		RecordDate:     FormatDate(a.RecordDate),
		PayDate:        FormatDate(a.PayDate),
		DeclaredDate:   FormatDate(a.DeclaredDate),
		CashAmount:     a.CashAmount.String(),
		Currency:       a.Currency,
		Frequency:      a.Frequency,
		DividendType:   a.DividendType,
	}
}

// Item attribute names in the announcements table.
const (
	AttrSymbol         = "symbol"
	AttrExDividendDate = "ex_dividend_date"
	AttrRecordDate     = "record_date"
	AttrPayDate        = "pay_date"
	AttrDeclaredDate   = "declared_date"
	AttrCashAmount     = "cash_amount"
	AttrCurrency       = "currency"
	AttrFrequency      = "frequency"
	AttrDividendType   = "dividend_type"
)

// ToItem converts the announcement to its storage representation. Dates are
// epoch-second numbers so the table supports range comparisons; the cash
// amount is written as a number attribute from its decimal string, never
// through a binary float.
func (a Announcement) ToItem() map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		AttrSymbol:         &types.AttributeValueMemberS{Value: a.Symbol},
		AttrExDividendDate: &types.AttributeValueMemberN{Value: DateToEpoch(a.ExDividendDate).String()},
		AttrRecordDate:     &types.AttributeValueMemberN{Value: DateToEpoch(a.RecordDate).String()},
		AttrPayDate:        &types.AttributeValueMemberN{Value: DateToEpoch(a.PayDate).String()},
		AttrDeclaredDate:   &types.AttributeValueMemberN{Value: DateToEpoch(a.DeclaredDate).String()},
		AttrCashAmount:     &types.AttributeValueMemberN{Value: a.CashAmount.String()},
		AttrCurrency:       &types.AttributeValueMemberS{Value: a.Currency},
	}
	if a.Frequency != "" {
		item[AttrFrequency] = &types.AttributeValueMemberS{Value: a.Frequency}
	}
	if a.DividendType != "" {
		item[AttrDividendType] = &types.AttributeValueMemberS{Value: a.DividendType}
	}
	return item
}

// AnnouncementFromItem rebuilds an announcement from a stored item.
func AnnouncementFromItem(item map[string]types.AttributeValue) (Announcement, error) {
	symbol, err := stringAttr(item, AttrSymbol)
	if err != nil {
		return Announcement{}, err
	}
	exDate, err := dateAttr(item, AttrExDividendDate)
	if err != nil {
		return Announcement{}, err
	}
	recordDate, err := dateAttr(item, AttrRecordDate)
	if err != nil {
		return Announcement{}, err
	}
	payDate, err := dateAttr(item, AttrPayDate)
	if err != nil {
		return Announcement{}, err
	}
	declaredDate, err := dateAttr(item, AttrDeclaredDate)
	if err != nil {
		return Announcement{}, err
	}
	cash, err := numberAttr(item, AttrCashAmount)
	if err != nil {
		return Announcement{}, err
	}

	return Announcement{
		Symbol:         symbol,
		ExDividendDate: exDate,
		RecordDate:     recordDate,
		PayDate:        payDate,
		DeclaredDate:   declaredDate,
		CashAmount:     cash,
		Currency:       optionalStringAttr(item, AttrCurrency),
		Frequency:      optionalStringAttr(item, AttrFrequency),
		DividendType:   optionalStringAttr(item, AttrDividendType),
	}, nil
}

func stringAttr(item map[string]types.AttributeValue, name string) (string, error) {
	av, ok := item[name].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("item attribute %q missing or not a string", name)
	}
	return av.Value, nil
}

func optionalStringAttr(item map[string]types.AttributeValue, name string) string {
	if av, ok := item[name].(*types.AttributeValueMemberS); ok {
		return av.Value
	}
	return ""
}

func numberAttr(item map[string]types.AttributeValue, name string) (decimal.Decimal, error) {
	av, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("item attribute %q missing or not a number", name)
	}
	d, err := decimal.NewFromString(av.Value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("item attribute %q: %w", name, err)
	}
	return d, nil
}

func dateAttr(item map[string]types.AttributeValue, name string) (time.Time, error) {
	d, err := numberAttr(item, name)
	if err != nil {
		return time.Time{}, err
	}
	return EpochToDate(d), nil
}
