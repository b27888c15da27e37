package promptpay

import (
	"errors"
	"strings"
)

type IdentifierKind int

const (
	Phone IdentifierKind = iota + 1
	NationalID
)

const (
	countryCallingCode = "66"
	trunkPrefix        = "0"
)

var (
	ErrInvalidIdentifier         = errors.New("invalid PromptPay identifier")
	ErrUnsupportedIdentifierKind = errors.New("unsupported PromptPay identifier kind")
)

func (kind IdentifierKind) String() string {
	switch kind {
	case Phone:
		return "PHONE"
	case NationalID:
		return "NATIONAL_ID"
	default:
		return "unknown"
	}
}

// ParseIdentifierKind accepts the names returned by String, case-insensitive.
func ParseIdentifierKind(s string) (IdentifierKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PHONE":
		return Phone, nil
	case "NATIONAL_ID":
		return NationalID, nil
	default:
		return 0, ErrUnsupportedIdentifierKind
	}
}

// accountTag is the merchant account subfield holding the identifier.
func (kind IdentifierKind) accountTag() (string, error) {
	switch kind {
	case Phone:
		return tagAccountPhone, nil
	case NationalID:
		return tagAccountNationalID, nil
	default:
		return "", ErrUnsupportedIdentifierKind
	}
}

// Identifier is a normalized PromptPay receiving identifier.
type Identifier struct {
	kind   IdentifierKind
	digits string
}

func (id Identifier) Kind() IdentifierKind {
	return id.kind
}

func (id Identifier) Digits() string {
	return id.digits
}

func (id Identifier) String() string {
	return id.kind.String() + ":" + id.digits
}

// NormalizeIdentifier strips every non-digit from raw. Phone numbers are
// put in international form: a leading trunk "0" becomes "66", and "66" is
// prepended when missing. National IDs are passed through as digits only,
// with no length or check digit validation.
func NormalizeIdentifier(raw string, kind IdentifierKind) (Identifier, error) {
	digits := onlyDigits(raw)

	switch kind {
	case Phone:
		if strings.HasPrefix(digits, trunkPrefix) {
			digits = countryCallingCode + digits[len(trunkPrefix):]
		} else if len(digits) > 0 && !strings.HasPrefix(digits, countryCallingCode) {
			digits = countryCallingCode + digits
		}
	case NationalID:
	default:
		return Identifier{}, ErrUnsupportedIdentifierKind
	}

	if len(digits) == 0 {
		return Identifier{}, ErrInvalidIdentifier
	}
	return Identifier{kind: kind, digits: digits}, nil
}

func onlyDigits(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}
