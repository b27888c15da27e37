package storage

import (
	"github.com/shopspring/decimal"
)

type DB interface {
	SaveShop(Shop) (int64, error)
	GetShop(id int64) (Shop, error)
	UpdateShopPromptPay(id int64, promptpayId, promptpayKind string) error

	SaveSubscription(Subscription) (int64, error)
	GetSubscription(id int64) (Subscription, error)

	SavePaymentRequest(PaymentRequest) error
	GetPaymentRequest(id string) (PaymentRequest, error)
	GetPaymentRequestsByShop(shopId int64) ([]PaymentRequest, error)
	UpdatePaymentRequestState(id string, state PaymentState, paidAt int64) error
	// SettleSubscriptionPayment marks a pending payment request paid and sets
	// the plan expiry of its shop. Either both updates are stored or none.
	SettleSubscriptionPayment(id string, paidAt int64, shopId int64, planExpiry int64) error

	Close()
}

type Shop struct {
	Id            int64
	Name          string
	PromptPayId   string
	PromptPayKind string
	// unix time, 0 if the shop never subscribed
	PlanExpiry int64
	CreatedAt  int64
}

type Subscription struct {
	Id        int64
	ShopId    int64
	Plan      string
	Days      int
	Price     decimal.Decimal
	CreatedAt int64
}

type PaymentKind string

const (
	OrderPayment        PaymentKind = "ORDER"
	SubscriptionPayment PaymentKind = "SUBSCRIPTION"
)

type PaymentRequest struct {
	Id             string
	ShopId         int64
	Kind           PaymentKind
	Reference      string
	SubscriptionId int64
	Amount         decimal.Decimal
	Payload        string
	State          PaymentState
	CreatedAt      int64
	PaidAt         int64
}

type PaymentState int

const (
	Pending PaymentState = iota
	Paid
	Cancelled
	Unknown
)

func (state PaymentState) String() string {
	switch state {
	case Pending:
		return "PENDING"
	case Paid:
		return "PAID"
	case Cancelled:
		return "CANCELLED"
	default:
		return "unknown"
	}
}

func StringToState(state string) PaymentState {
	switch state {
	case "PENDING":
		return Pending
	case "PAID":
		return Paid
	case "CANCELLED":
		return Cancelled
	}
	return Unknown
}

// Final reports whether no further state change is allowed.
func (state PaymentState) Final() bool {
	return state == Paid || state == Cancelled
}
