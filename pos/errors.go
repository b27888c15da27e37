package pos

import (
	"errors"

	"github.com/tablepos/promptpay/emvqr"
	"github.com/tablepos/promptpay/promptpay"
)

type ErrCode int

// Error represents an error to be returned by the server
type Error struct {
	Detail string  `json:"detail"`
	Code   ErrCode `json:"code"`
}

func BuildError(detail string, code ErrCode) Error {
	return Error{Detail: detail, Code: code}
}

func (e Error) Error() string {
	return e.Detail
}

const (
	StandardErrCode ErrCode = 10000
	// Never returned in a response. Marks errors that
	// originated in the db so they get logged.
	DBErrCode ErrCode = 1

	ShopErrCode         ErrCode = 11001
	ShopNotExistErrCode ErrCode = 11002

	PromptPayErrCode    ErrCode = 12001
	PayloadErrCode      ErrCode = 12002
	InvalidAmountCode   ErrCode = 12003
	UnknownPlanErrCode  ErrCode = 12004
	PublicURLErrCode    ErrCode = 12005
	PaymentNotExistCode ErrCode = 13001
	PaymentStateErrCode ErrCode = 13002
)

var (
	StandardErr                  = Error{Detail: "unable to process request", Code: StandardErrCode}
	EmptyBodyErr                 = Error{Detail: "request body cannot be empty", Code: StandardErrCode}
	InvalidShopNameErr           = Error{Detail: "shop name cannot be empty", Code: ShopErrCode}
	ShopNotExistErr              = Error{Detail: "shop does not exist", Code: ShopNotExistErrCode}
	InvalidIdentifierErr         = Error{Detail: "invalid PromptPay identifier", Code: PromptPayErrCode}
	UnsupportedIdentifierKindErr = Error{Detail: "PromptPay identifier kind must be PHONE or NATIONAL_ID", Code: PromptPayErrCode}
	ValueTooLongErr              = Error{Detail: "payload field longer than 99 bytes", Code: PayloadErrCode}
	InvalidAmountErr             = Error{Detail: "amount must be greater than zero", Code: InvalidAmountCode}
	InvalidReferenceErr          = Error{Detail: "order reference cannot be empty", Code: PayloadErrCode}
	UnknownPlanErr               = Error{Detail: "unknown subscription plan", Code: UnknownPlanErrCode}
	PublicURLNotSetErr           = Error{Detail: "public URL is not configured", Code: PublicURLErrCode}
	PaymentNotExistErr           = Error{Detail: "payment request does not exist", Code: PaymentNotExistCode}
	PaymentAlreadyPaidErr        = Error{Detail: "payment request already paid", Code: PaymentStateErrCode}
	PaymentCancelledErr          = Error{Detail: "payment request was cancelled", Code: PaymentStateErrCode}
)

// payloadError maps errors from building a payload to server errors.
func payloadError(err error) error {
	var fieldErr *emvqr.FieldError
	switch {
	case errors.Is(err, promptpay.ErrInvalidIdentifier):
		return InvalidIdentifierErr
	case errors.Is(err, promptpay.ErrUnsupportedIdentifierKind):
		return UnsupportedIdentifierKindErr
	case errors.Is(err, promptpay.ErrInvalidAmount):
		return BuildError(promptpay.ErrInvalidAmount.Error(), InvalidAmountCode)
	case errors.Is(err, emvqr.ErrValueTooLong) && errors.As(err, &fieldErr):
		return BuildError(ValueTooLongErr.Detail+" (tag "+fieldErr.Tag+")", PayloadErrCode)
	case errors.As(err, &fieldErr):
		return BuildError(fieldErr.Error(), PayloadErrCode)
	default:
		return err
	}
}
