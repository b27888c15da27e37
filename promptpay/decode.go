package promptpay

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tablepos/promptpay/emvqr"
)

var ErrNotPromptPay = errors.New("payload is not a PromptPay payload")

// Details are the values carried by a PromptPay payload.
type Details struct {
	Identifier   Identifier
	Dynamic      bool
	Amount       *decimal.Decimal
	MerchantName string
	MerchantCity string
	Reference    string
	Checksum     string
}

// Decode verifies the checksum of payload and extracts its PromptPay fields.
func Decode(payload string) (Details, error) {
	if err := emvqr.VerifyChecksum(payload); err != nil {
		return Details{}, err
	}

	fields, err := emvqr.Parse(payload)
	if err != nil {
		return Details{}, err
	}
	// the checksum bytes may sit inside the value of another field
	if last := fields[len(fields)-1]; last.Tag != emvqr.ChecksumTag {
		return Details{}, fmt.Errorf("%w: last field is %s, not the checksum", emvqr.ErrMalformed, last.Tag)
	}

	var details Details

	initiation, _ := fields.Get(tagInitiation)
	details.Dynamic = initiation == DynamicInitiation

	account, ok := fields.Get(tagMerchantAccount)
	if !ok {
		return Details{}, fmt.Errorf("%w: missing merchant account field", ErrNotPromptPay)
	}
	accountFields, err := emvqr.Parse(account)
	if err != nil {
		return Details{}, fmt.Errorf("merchant account: %w", err)
	}
	if guid, _ := accountFields.Get(tagAccountGUID); guid != PromptPayGUID {
		return Details{}, fmt.Errorf("%w: unknown scheme '%s'", ErrNotPromptPay, guid)
	}
	if phone, ok := accountFields.Get(tagAccountPhone); ok {
		details.Identifier = Identifier{kind: Phone, digits: phone}
	} else if nationalId, ok := accountFields.Get(tagAccountNationalID); ok {
		details.Identifier = Identifier{kind: NationalID, digits: nationalId}
	} else {
		return Details{}, fmt.Errorf("%w: missing account identifier", ErrNotPromptPay)
	}

	if amountStr, ok := fields.Get(tagAmount); ok {
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return Details{}, fmt.Errorf("invalid amount '%s': %w", amountStr, err)
		}
		details.Amount = &amount
	}

	details.MerchantName, _ = fields.Get(tagMerchantName)
	details.MerchantCity, _ = fields.Get(tagMerchantCity)
	details.Checksum, _ = fields.Get(emvqr.ChecksumTag)

	if additionalData, ok := fields.Get(tagAdditionalData); ok {
		additionalFields, err := emvqr.Parse(additionalData)
		if err != nil {
			return Details{}, fmt.Errorf("additional data: %w", err)
		}
		details.Reference, _ = additionalFields.Get(tagReference)
	}

	return details, nil
}
