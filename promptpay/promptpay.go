// Package promptpay builds PromptPay payment payloads: EMVCo merchant
// presented QR payloads carrying a Thai PromptPay identifier.
//
// Building a payload is a pure computation. It is safe to call
// concurrently and never logs.
package promptpay

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/tablepos/promptpay/emvqr"
)

const (
	PayloadFormatIndicator = "01"
	StaticInitiation       = "11"
	DynamicInitiation      = "12"

	// Application identifier of the PromptPay credit transfer scheme.
	PromptPayGUID = "A000000677010111"
	CurrencyTHB   = "764"
	CountryCode   = "TH"

	DefaultMerchantName = "PROMPTPAY"
	DefaultMerchantCity = "BANGKOK"

	MaxReferenceLength = 25
)

const (
	tagPayloadFormat   = "00"
	tagInitiation      = "01"
	tagMerchantAccount = "29"
	tagCurrency        = "53"
	tagAmount          = "54"
	tagCountry         = "58"
	tagMerchantName    = "59"
	tagMerchantCity    = "60"
	tagAdditionalData  = "62"

	// merchant account subfields
	tagAccountGUID       = "00"
	tagAccountPhone      = "01"
	tagAccountNationalID = "02"

	// additional data subfields
	tagReference = "05"
)

var ErrInvalidAmount = errors.New("amount cannot be negative")

// Options holds the optional inputs of a payload.
//
// A nil Amount omits the amount field. MerchantName and MerchantCity fall
// back to DefaultMerchantName and DefaultMerchantCity when blank. An empty
// Reference omits the additional data field; longer references are cut to
// MaxReferenceLength characters. A nil Dynamic marks the payload dynamic
// exactly when an Amount is set.
type Options struct {
	Amount       *decimal.Decimal
	MerchantName string
	MerchantCity string
	Reference    string
	Dynamic      *bool
}

func (opts Options) dynamic() bool {
	if opts.Dynamic != nil {
		return *opts.Dynamic
	}
	return opts.Amount != nil
}

// BuildPayload returns the payload for identifier, terminated by its checksum.
func BuildPayload(identifier string, kind IdentifierKind, opts Options) (string, error) {
	id, err := NormalizeIdentifier(identifier, kind)
	if err != nil {
		return "", err
	}

	fields, err := payloadFields(id, opts)
	if err != nil {
		return "", err
	}

	payload, err := fields.Encode()
	if err != nil {
		return "", err
	}
	return emvqr.AppendChecksum(payload), nil
}

// payloadFields lays out every field except the checksum in payload order.
func payloadFields(id Identifier, opts Options) (emvqr.Fields, error) {
	initiation := StaticInitiation
	if opts.dynamic() {
		initiation = DynamicInitiation
	}

	accountTag, err := id.kind.accountTag()
	if err != nil {
		return nil, err
	}
	merchantAccount, err := emvqr.Composite(tagMerchantAccount, emvqr.Fields{
		{Tag: tagAccountGUID, Value: PromptPayGUID},
		{Tag: accountTag, Value: id.digits},
	})
	if err != nil {
		return nil, err
	}

	fields := emvqr.Fields{
		{Tag: tagPayloadFormat, Value: PayloadFormatIndicator},
		{Tag: tagInitiation, Value: initiation},
		merchantAccount,
		{Tag: tagCurrency, Value: CurrencyTHB},
	}

	if opts.Amount != nil {
		amount, err := FormatAmount(*opts.Amount)
		if err != nil {
			return nil, err
		}
		fields = append(fields, emvqr.Field{Tag: tagAmount, Value: amount})
	}

	fields = append(fields,
		emvqr.Field{Tag: tagCountry, Value: CountryCode},
		emvqr.Field{Tag: tagMerchantName, Value: sanitize(opts.MerchantName, DefaultMerchantName)},
		emvqr.Field{Tag: tagMerchantCity, Value: sanitize(opts.MerchantCity, DefaultMerchantCity)},
	)

	if len(opts.Reference) > 0 {
		additionalData, err := emvqr.Composite(tagAdditionalData, emvqr.Fields{
			{Tag: tagReference, Value: truncate(opts.Reference, MaxReferenceLength)},
		})
		if err != nil {
			return nil, err
		}
		fields = append(fields, additionalData)
	}

	return fields, nil
}

// FormatAmount formats amount with exactly two decimal places,
// rounding half away from zero.
func FormatAmount(amount decimal.Decimal) (string, error) {
	if amount.IsNegative() {
		return "", ErrInvalidAmount
	}
	return amount.StringFixed(2), nil
}

func sanitize(text, fallback string) string {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return fallback
	}
	return text
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
