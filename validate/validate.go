package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"divflow/models"
)

// MissingFieldError reports a raw feed entry missing one of the required
// fields.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// InvalidFieldError reports a present field whose value cannot be parsed.
type InvalidFieldError struct {
	Field string
	Value string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("invalid value %q for field %q", e.Value, e.Field)
}

// Validator checks raw feed entries and normalises them into announcements.
// It is pure: no I/O, no retained state between calls.
type Validator struct {
	check *validator.Validate
}

func New() *Validator {
	check := validator.New(validator.WithRequiredStructEnabled())
	// Report field names as they appear on the wire.
	check.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{check: check}
}

// Validate converts a raw feed entry into an Announcement. Missing required
// fields and unparseable dates or amounts yield a typed rejection error;
// optional dates are defaulted (record_date from ex_dividend_date,
// declared_date from the ingestion date).
func (v *Validator) Validate(raw models.RawEntry, ingestedAt time.Time) (models.Announcement, error) {
	if err := v.check.Struct(raw); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return models.Announcement{}, &MissingFieldError{Field: verrs[0].Field()}
		}
		return models.Announcement{}, err
	}

	exDate, err := models.ParseDate(raw.ExDividendDate)
	if err != nil {
		return models.Announcement{}, &InvalidFieldError{Field: models.AttrExDividendDate, Value: raw.ExDividendDate}
	}
	payDate, err := models.ParseDate(raw.PayDate)
	if err != nil {
		return models.Announcement{}, &InvalidFieldError{Field: models.AttrPayDate, Value: raw.PayDate}
	}

	recordDate := exDate
	if raw.RecordDate != "" {
		recordDate, err = models.ParseDate(raw.RecordDate)
		if err != nil {
			return models.Announcement{}, &InvalidFieldError{Field: models.AttrRecordDate, Value: raw.RecordDate}
		}
	}

	declaredDate := models.Day(ingestedAt)
	if raw.DeclaredDate != "" {
		declaredDate, err = models.ParseDate(raw.DeclaredDate)
		if err != nil {
			return models.Announcement{}, &InvalidFieldError{Field: models.AttrDeclaredDate, Value: raw.DeclaredDate}
		}
	}

	cash, err := decimal.NewFromString(raw.CashAmount.String())
	if err != nil {
		return models.Announcement{}, &InvalidFieldError{Field: models.AttrCashAmount, Value: raw.CashAmount.String()}
	}

	return models.Announcement{
		Symbol:         raw.Ticker,
		ExDividendDate: exDate,
		RecordDate:     recordDate,
		PayDate:        payDate,
		DeclaredDate:   declaredDate,
		CashAmount:     cash,
		Currency:       raw.Currency,
		Frequency:      raw.Frequency.String(),
		DividendType:   raw.DividendType,
	}, nil
}
