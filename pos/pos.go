package pos

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tablepos/promptpay/pos/pubsub"
	"github.com/tablepos/promptpay/pos/storage"
	"github.com/tablepos/promptpay/pos/storage/sqlite"
	"github.com/tablepos/promptpay/promptpay"
	"github.com/tablepos/promptpay/qrimage"
)

const (
	PAYMENT_STATE_TOPIC = "payment_state_topic"

	OrderReferencePrefix        = "ORDER"
	SubscriptionReferencePrefix = "SUB"
)

// PaymentDesk issues PromptPay payment requests for shop orders
// and shop subscriptions, and tracks their state.
type PaymentDesk struct {
	db        storage.DB
	config    Config
	renderer  qrimage.Renderer
	publisher *pubsub.PubSub
	logger    *slog.Logger
	logFile   *os.File

	// serializes state transitions of payment requests
	mu sync.Mutex
}

func LoadPaymentDesk(config Config) (*PaymentDesk, error) {
	path := config.DataPath
	if len(path) == 0 {
		var err error
		path, err = posPath()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	logger, logFile, err := setupLogger(path, config.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := sqlite.InitSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("error setting up sqlite: %v", err)
	}

	if config.Plans == nil {
		config.Plans = DefaultPlans()
	}
	if len(config.SystemReceiver.Id) == 0 {
		config.SystemReceiver = Receiver{Id: DefaultSystemPromptPayId, Kind: promptpay.Phone}
	}
	if len(config.SystemMerchantName) == 0 {
		config.SystemMerchantName = DefaultSystemMerchantName
	}
	if len(config.SystemMerchantCity) == 0 {
		config.SystemMerchantCity = DefaultSystemMerchantCity
	}

	desk := &PaymentDesk{
		db:        db,
		config:    config,
		renderer:  qrimage.NewPNGRenderer(config.QRScale),
		publisher: pubsub.NewPubSub(),
		logger:    logger,
		logFile:   logFile,
	}
	desk.logInfof("payment desk loaded from '%v'", path)

	return desk, nil
}

// posPath returns the default data path
// at $HOME/.tablepos/pos
func posPath() (string, error) {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homedir, ".tablepos", "pos"), nil
}

func setupLogger(path string, level LogLevel) (*slog.Logger, *os.File, error) {
	if level == Disable {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), nil, nil
	}

	logFile, err := os.OpenFile(filepath.Join(path, "pos.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening log file: %v", err)
	}

	logLevel := slog.LevelInfo
	if level == Debug {
		logLevel = slog.LevelDebug
	}

	replacer := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.TimeKey {
			a.Value = slog.StringValue(a.Value.Time().Format(time.DateTime))
		}
		return a
	}

	w := io.MultiWriter(os.Stdout, logFile)
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel, ReplaceAttr: replacer})
	return slog.New(handler), logFile, nil
}

func (d *PaymentDesk) logInfof(format string, args ...any) {
	d.logger.Info(fmt.Sprintf(format, args...))
}

func (d *PaymentDesk) logErrorf(format string, args ...any) {
	d.logger.Error(fmt.Sprintf(format, args...))
}

func (d *PaymentDesk) logDebugf(format string, args ...any) {
	d.logger.Debug(fmt.Sprintf(format, args...))
}

func (d *PaymentDesk) Shutdown() {
	d.db.Close()
	if d.logFile != nil {
		d.logFile.Close()
	}
}

func (d *PaymentDesk) RegisterShop(name string) (storage.Shop, error) {
	name = strings.TrimSpace(name)
	if len(name) == 0 {
		return storage.Shop{}, InvalidShopNameErr
	}

	shop := storage.Shop{Name: name, CreatedAt: time.Now().Unix()}
	id, err := d.db.SaveShop(shop)
	if err != nil {
		return storage.Shop{}, BuildError(fmt.Sprintf("error saving shop: %v", err), DBErrCode)
	}
	shop.Id = id
	d.logInfof("registered shop %v '%v'", shop.Id, shop.Name)

	return shop, nil
}

func (d *PaymentDesk) GetShop(id int64) (storage.Shop, error) {
	shop, err := d.db.GetShop(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Shop{}, ShopNotExistErr
		}
		return storage.Shop{}, BuildError(fmt.Sprintf("error getting shop: %v", err), DBErrCode)
	}
	return shop, nil
}

// UpdateShopPromptPay sets the account that receives the shop's
// order payments. The identifier is stored as entered.
func (d *PaymentDesk) UpdateShopPromptPay(id int64, identifier, kind string) (storage.Shop, error) {
	identifierKind, err := promptpay.ParseIdentifierKind(kind)
	if err != nil {
		return storage.Shop{}, payloadError(err)
	}
	identifier = strings.TrimSpace(identifier)
	if _, err := promptpay.NormalizeIdentifier(identifier, identifierKind); err != nil {
		return storage.Shop{}, payloadError(err)
	}

	shop, err := d.GetShop(id)
	if err != nil {
		return storage.Shop{}, err
	}

	if err := d.db.UpdateShopPromptPay(id, identifier, identifierKind.String()); err != nil {
		return storage.Shop{}, BuildError(fmt.Sprintf("error updating shop: %v", err), DBErrCode)
	}
	shop.PromptPayId = identifier
	shop.PromptPayKind = identifierKind.String()
	d.logInfof("updated PromptPay receiver of shop %v", shop.Id)

	return shop, nil
}

// receiver returns the account for the order payments of a shop.
// Shops without PromptPay settings are paid to the system account.
func (d *PaymentDesk) receiver(shop storage.Shop) Receiver {
	if len(shop.PromptPayId) == 0 {
		return d.config.SystemReceiver
	}
	kind, err := promptpay.ParseIdentifierKind(shop.PromptPayKind)
	if err != nil {
		d.logErrorf("shop %v has invalid PromptPay kind '%v'. Using system receiver", shop.Id, shop.PromptPayKind)
		return d.config.SystemReceiver
	}
	return Receiver{Id: shop.PromptPayId, Kind: kind}
}

// RequestOrderPayment creates a payment request for an order
// that the customer pays to the shop.
func (d *PaymentDesk) RequestOrderPayment(shopId int64, orderRef string, amount decimal.Decimal) (storage.PaymentRequest, error) {
	orderRef = strings.TrimSpace(orderRef)
	if len(orderRef) == 0 {
		return storage.PaymentRequest{}, InvalidReferenceErr
	}
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return storage.PaymentRequest{}, InvalidAmountErr
	}

	shop, err := d.GetShop(shopId)
	if err != nil {
		return storage.PaymentRequest{}, err
	}

	receiver := d.receiver(shop)
	dynamic := true
	reference := OrderReferencePrefix + orderRef
	payload, err := promptpay.BuildPayload(receiver.Id, receiver.Kind, promptpay.Options{
		Amount:       &amount,
		MerchantName: shop.Name,
		MerchantCity: promptpay.DefaultMerchantCity,
		Reference:    reference,
		Dynamic:      &dynamic,
	})
	if err != nil {
		return storage.PaymentRequest{}, payloadError(err)
	}

	payment := storage.PaymentRequest{
		Id:        uuid.NewString(),
		ShopId:    shop.Id,
		Kind:      storage.OrderPayment,
		Reference: reference,
		Amount:    amount,
		Payload:   payload,
		State:     storage.Pending,
		CreatedAt: time.Now().Unix(),
	}
	if err := d.db.SavePaymentRequest(payment); err != nil {
		return storage.PaymentRequest{}, BuildError(fmt.Sprintf("error saving payment request: %v", err), DBErrCode)
	}
	d.logInfof("created order payment request '%v' of %v THB for shop %v", payment.Id, amount.StringFixed(2), shop.Id)

	return payment, nil
}

// RequestSubscriptionPayment creates a payment request for a shop
// subscription plan, paid to the system account.
func (d *PaymentDesk) RequestSubscriptionPayment(shopId int64, planCode string) (storage.PaymentRequest, error) {
	plan, ok := d.config.Plans[strings.ToUpper(strings.TrimSpace(planCode))]
	if !ok {
		return storage.PaymentRequest{}, UnknownPlanErr
	}

	shop, err := d.GetShop(shopId)
	if err != nil {
		return storage.PaymentRequest{}, err
	}

	now := time.Now().Unix()
	subscription := storage.Subscription{
		ShopId:    shop.Id,
		Plan:      plan.Code,
		Days:      plan.Days,
		Price:     plan.Price,
		CreatedAt: now,
	}
	subscriptionId, err := d.db.SaveSubscription(subscription)
	if err != nil {
		return storage.PaymentRequest{}, BuildError(fmt.Sprintf("error saving subscription: %v", err), DBErrCode)
	}

	receiver := d.config.SystemReceiver
	amount := plan.Price.Round(2)
	dynamic := true
	reference := SubscriptionReferencePrefix + strconv.FormatInt(subscriptionId, 10)
	payload, err := promptpay.BuildPayload(receiver.Id, receiver.Kind, promptpay.Options{
		Amount:       &amount,
		MerchantName: d.config.SystemMerchantName,
		MerchantCity: d.config.SystemMerchantCity,
		Reference:    reference,
		Dynamic:      &dynamic,
	})
	if err != nil {
		return storage.PaymentRequest{}, payloadError(err)
	}

	payment := storage.PaymentRequest{
		Id:             uuid.NewString(),
		ShopId:         shop.Id,
		Kind:           storage.SubscriptionPayment,
		Reference:      reference,
		SubscriptionId: subscriptionId,
		Amount:         amount,
		Payload:        payload,
		State:          storage.Pending,
		CreatedAt:      now,
	}
	if err := d.db.SavePaymentRequest(payment); err != nil {
		return storage.PaymentRequest{}, BuildError(fmt.Sprintf("error saving payment request: %v", err), DBErrCode)
	}
	d.logInfof("created %v subscription payment request '%v' for shop %v", plan.Code, payment.Id, shop.Id)

	return payment, nil
}

func (d *PaymentDesk) GetPaymentRequest(id string) (storage.PaymentRequest, error) {
	payment, err := d.db.GetPaymentRequest(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PaymentRequest{}, PaymentNotExistErr
		}
		return storage.PaymentRequest{}, BuildError(fmt.Sprintf("error getting payment request: %v", err), DBErrCode)
	}
	return payment, nil
}

func (d *PaymentDesk) ListShopPayments(shopId int64) ([]storage.PaymentRequest, error) {
	if _, err := d.GetShop(shopId); err != nil {
		return nil, err
	}
	payments, err := d.db.GetPaymentRequestsByShop(shopId)
	if err != nil {
		return nil, BuildError(fmt.Sprintf("error getting payment requests: %v", err), DBErrCode)
	}
	return payments, nil
}

// MarkPaid settles a pending payment request. Settling a subscription
// payment extends the shop plan by the plan days, counted from
// the current expiry or from now if the plan already expired.
// The payment state and the plan expiry are stored together.
func (d *PaymentDesk) MarkPaid(id string) (storage.PaymentRequest, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	payment, err := d.pendingPayment(id)
	if err != nil {
		return storage.PaymentRequest{}, err
	}

	now := time.Now()
	if payment.Kind == storage.SubscriptionPayment {
		expiry, err := d.extendedPlanExpiry(payment, now)
		if err != nil {
			d.logErrorf("could not extend plan of shop %v for payment '%v': %v", payment.ShopId, payment.Id, err)
			return storage.PaymentRequest{}, err
		}
		if err := d.db.SettleSubscriptionPayment(id, now.Unix(), payment.ShopId, expiry); err != nil {
			return storage.PaymentRequest{}, BuildError(fmt.Sprintf("error settling subscription payment: %v", err), DBErrCode)
		}
		d.logInfof("extended plan of shop %v until %v", payment.ShopId, time.Unix(expiry, 0).Format(time.DateOnly))
	} else {
		if err := d.db.UpdatePaymentRequestState(id, storage.Paid, now.Unix()); err != nil {
			return storage.PaymentRequest{}, BuildError(fmt.Sprintf("error updating payment request: %v", err), DBErrCode)
		}
	}
	payment.State = storage.Paid
	payment.PaidAt = now.Unix()
	d.logInfof("payment request '%v' paid", payment.Id)

	d.publishPaymentState(payment)
	return payment, nil
}

// extendedPlanExpiry returns the plan expiry of the shop once
// the subscription of payment is added to it.
func (d *PaymentDesk) extendedPlanExpiry(payment storage.PaymentRequest, now time.Time) (int64, error) {
	subscription, err := d.db.GetSubscription(payment.SubscriptionId)
	if err != nil {
		return 0, BuildError(fmt.Sprintf("error getting subscription: %v", err), DBErrCode)
	}
	shop, err := d.GetShop(payment.ShopId)
	if err != nil {
		return 0, err
	}

	start := now
	if shop.PlanExpiry > now.Unix() {
		start = time.Unix(shop.PlanExpiry, 0)
	}
	return start.AddDate(0, 0, subscription.Days).Unix(), nil
}

func (d *PaymentDesk) CancelPayment(id string) (storage.PaymentRequest, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	payment, err := d.pendingPayment(id)
	if err != nil {
		return storage.PaymentRequest{}, err
	}

	if err := d.db.UpdatePaymentRequestState(id, storage.Cancelled, 0); err != nil {
		return storage.PaymentRequest{}, BuildError(fmt.Sprintf("error updating payment request: %v", err), DBErrCode)
	}
	payment.State = storage.Cancelled
	d.logInfof("payment request '%v' cancelled", payment.Id)

	d.publishPaymentState(payment)
	return payment, nil
}

func (d *PaymentDesk) pendingPayment(id string) (storage.PaymentRequest, error) {
	payment, err := d.GetPaymentRequest(id)
	if err != nil {
		return storage.PaymentRequest{}, err
	}
	switch payment.State {
	case storage.Paid:
		return storage.PaymentRequest{}, PaymentAlreadyPaidErr
	case storage.Cancelled:
		return storage.PaymentRequest{}, PaymentCancelledErr
	}
	return payment, nil
}

// paymentTopic is the topic on which state changes
// of a single payment request are published.
func paymentTopic(id string) string {
	return PAYMENT_STATE_TOPIC + "_" + id
}

func (d *PaymentDesk) publishPaymentState(payment storage.PaymentRequest) {
	jsonPayment, err := json.Marshal(NewPaymentResponse(payment))
	if err != nil {
		d.logErrorf("could not marshal payment request '%v': %v", payment.Id, err)
		return
	}
	d.publisher.Publish(paymentTopic(payment.Id), jsonPayment)
}

// PaymentQR renders the payload of a payment request as a PNG image.
func (d *PaymentDesk) PaymentQR(id string) ([]byte, error) {
	payment, err := d.GetPaymentRequest(id)
	if err != nil {
		return nil, err
	}
	png, err := d.renderer.Render(payment.Payload)
	if err != nil {
		return nil, fmt.Errorf("error rendering QR of payment request '%v': %v", id, err)
	}
	return png, nil
}

// GeneratePayload builds a one-off payload that is not tracked
// as a payment request.
func (d *PaymentDesk) GeneratePayload(identifier, kind string, opts promptpay.Options) (string, error) {
	identifierKind, err := promptpay.ParseIdentifierKind(kind)
	if err != nil {
		return "", payloadError(err)
	}
	payload, err := promptpay.BuildPayload(identifier, identifierKind, opts)
	if err != nil {
		return "", payloadError(err)
	}
	d.logDebugf("generated payload '%v'", payload)
	return payload, nil
}

func (d *PaymentDesk) GenerateQR(identifier, kind string, opts promptpay.Options) ([]byte, error) {
	identifierKind, err := promptpay.ParseIdentifierKind(kind)
	if err != nil {
		return nil, payloadError(err)
	}
	png, err := promptpay.BuildQRImage(d.renderer, identifier, identifierKind, opts)
	if err != nil {
		return nil, payloadError(err)
	}
	return png, nil
}

// TableQR renders the link to the ordering page of a table.
func (d *PaymentDesk) TableQR(tableId string) ([]byte, error) {
	if len(d.config.PublicURL) == 0 {
		return nil, PublicURLNotSetErr
	}
	tableId = strings.TrimSpace(tableId)
	if len(tableId) == 0 {
		return nil, BuildError("table id cannot be empty", StandardErrCode)
	}

	link := strings.TrimRight(d.config.PublicURL, "/") + "/t/" + url.PathEscape(tableId)
	png, err := d.renderer.Render(link)
	if err != nil {
		return nil, fmt.Errorf("error rendering QR of table '%v': %v", tableId, err)
	}
	return png, nil
}
