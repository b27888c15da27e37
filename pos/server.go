package pos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/tablepos/promptpay/pos/storage"
	"github.com/tablepos/promptpay/promptpay"
)

type PosServer struct {
	httpServer *http.Server
	desk       *PaymentDesk
	logger     *slog.Logger
}

func SetupServer(config Config) (*PosServer, error) {
	desk, err := LoadPaymentDesk(config)
	if err != nil {
		return nil, err
	}

	server := &PosServer{desk: desk, logger: desk.logger}
	server.setupHttpServer(config.Host, config.Port)
	return server, nil
}

func (ps *PosServer) Start() error {
	ps.logger.Info("pos server listening on: " + ps.httpServer.Addr)
	err := ps.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (ps *PosServer) Shutdown() error {
	ps.logger.Info("shutting down pos server")
	err := ps.httpServer.Shutdown(context.Background())
	ps.desk.Shutdown()
	return err
}

func (ps *PosServer) setupHttpServer(host, port string) {
	ps.httpServer = &http.Server{
		Addr:    host + ":" + port,
		Handler: ps.router(),
	}
}

func (ps *PosServer) router() *mux.Router {
	r := mux.NewRouter()

	shops := r.PathPrefix("/v1/shops").Subrouter()
	shops.HandleFunc("", ps.registerShop).Methods(http.MethodPost, http.MethodOptions)
	shops.HandleFunc("/{shop_id}", ps.getShop).Methods(http.MethodGet, http.MethodOptions)
	shops.HandleFunc("/{shop_id}/promptpay", ps.updateShopPromptPay).Methods(http.MethodPut, http.MethodOptions)
	shops.HandleFunc("/{shop_id}/payments", ps.listShopPayments).Methods(http.MethodGet, http.MethodOptions)
	shops.HandleFunc("/{shop_id}/orders/{order_ref}/promptpay", ps.requestOrderPayment).Methods(http.MethodPost, http.MethodOptions)
	shops.HandleFunc("/{shop_id}/subscriptions", ps.requestSubscriptionPayment).Methods(http.MethodPost, http.MethodOptions)

	payments := r.PathPrefix("/v1/payments").Subrouter()
	payments.HandleFunc("/{id}", ps.getPayment).Methods(http.MethodGet, http.MethodOptions)
	payments.HandleFunc("/{id}/qr.png", ps.getPaymentQR).Methods(http.MethodGet, http.MethodOptions)
	payments.HandleFunc("/{id}/paid", ps.markPaid).Methods(http.MethodPost, http.MethodOptions)
	payments.HandleFunc("/{id}/cancel", ps.cancelPayment).Methods(http.MethodPost, http.MethodOptions)
	payments.HandleFunc("/{id}/ws", ps.watchPayment).Methods(http.MethodGet)

	r.HandleFunc("/v1/promptpay", ps.generatePayload).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/v1/promptpay/qr.png", ps.generateQR).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/v1/tables/{table_id}/qr.png", ps.getTableQR).Methods(http.MethodGet, http.MethodOptions)

	r.Use(setupHeaders)

	return r
}

func setupHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.Header().Set("Access-Control-Allow-Origin", "*")
		rw.Header().Set("Access-Control-Allow-Credentials", "true")
		rw.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		rw.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, origin")

		if req.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(rw, req)
	})
}

type ShopRequest struct {
	Name string `json:"name"`
}

type PromptPayRequest struct {
	PromptPayId   string `json:"promptpay_id"`
	PromptPayKind string `json:"promptpay_kind"`
}

type OrderPaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type SubscriptionRequest struct {
	Plan string `json:"plan"`
}

type ShopResponse struct {
	Id            int64  `json:"id"`
	Name          string `json:"name"`
	PromptPayId   string `json:"promptpay_id,omitempty"`
	PromptPayKind string `json:"promptpay_kind,omitempty"`
	PlanExpiry    int64  `json:"plan_expiry,omitempty"`
}

type PaymentResponse struct {
	Id        string `json:"id"`
	ShopId    int64  `json:"shop_id"`
	Kind      string `json:"kind"`
	Reference string `json:"reference"`
	Amount    string `json:"amount"`
	Payload   string `json:"payload"`
	State     string `json:"state"`
	CreatedAt int64  `json:"created_at"`
	PaidAt    int64  `json:"paid_at,omitempty"`
}

type PayloadResponse struct {
	Payload string `json:"payload"`
}

func NewShopResponse(shop storage.Shop) ShopResponse {
	return ShopResponse{
		Id:            shop.Id,
		Name:          shop.Name,
		PromptPayId:   shop.PromptPayId,
		PromptPayKind: shop.PromptPayKind,
		PlanExpiry:    shop.PlanExpiry,
	}
}

func NewPaymentResponse(payment storage.PaymentRequest) PaymentResponse {
	return PaymentResponse{
		Id:        payment.Id,
		ShopId:    payment.ShopId,
		Kind:      string(payment.Kind),
		Reference: payment.Reference,
		Amount:    payment.Amount.StringFixed(2),
		Payload:   payment.Payload,
		State:     payment.State.String(),
		CreatedAt: payment.CreatedAt,
		PaidAt:    payment.PaidAt,
	}
}

func (ps *PosServer) writeResponse(rw http.ResponseWriter, response any) {
	jsonRes, err := json.Marshal(response)
	if err != nil {
		ps.writeErr(rw, err)
		return
	}
	rw.Write(jsonRes)
}

func (ps *PosServer) writePNG(rw http.ResponseWriter, png []byte) {
	rw.Header().Set("Content-Type", "image/png")
	rw.Header().Set("Content-Length", strconv.Itoa(len(png)))
	rw.Write(png)
}

// writeErr writes server errors as a json response.
// Errors that did not originate from a bad request
// are logged and reported as a standard error.
func (ps *PosServer) writeErr(rw http.ResponseWriter, err error) {
	var posErr Error
	if !errors.As(err, &posErr) || posErr.Code == DBErrCode {
		ps.logger.Error(err.Error())
		posErr = StandardErr
		rw.WriteHeader(http.StatusInternalServerError)
	} else {
		switch posErr.Code {
		case ShopNotExistErrCode, PaymentNotExistCode:
			rw.WriteHeader(http.StatusNotFound)
		default:
			rw.WriteHeader(http.StatusBadRequest)
		}
	}

	errRes, _ := json.Marshal(posErr)
	rw.Write(errRes)
}

func decodeJsonReqBody(req *http.Request, dst any) error {
	if req.ContentLength == 0 || req.Body == nil {
		return EmptyBodyErr
	}

	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return EmptyBodyErr
		}
		return BuildError(fmt.Sprintf("invalid request body: %v", err), StandardErrCode)
	}
	return nil
}

func shopIdVar(req *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(req)["shop_id"], 10, 64)
	if err != nil {
		return 0, ShopNotExistErr
	}
	return id, nil
}

func (ps *PosServer) registerShop(rw http.ResponseWriter, req *http.Request) {
	var shopReq ShopRequest
	if err := decodeJsonReqBody(req, &shopReq); err != nil {
		ps.writeErr(rw, err)
		return
	}

	shop, err := ps.desk.RegisterShop(shopReq.Name)
	if err != nil {
		ps.writeErr(rw, err)
		return
	}
	rw.WriteHeader(http.StatusCreated)
	ps.writeResponse(rw, NewShopResponse(shop))
}

func (ps *PosServer) getShop(rw http.ResponseWriter, req *http.Request) {
	id, err := shopIdVar(req)
	if err != nil {
		ps.writeErr(rw, err)
		return
	}

	shop, err := ps.desk.GetShop(id)
	if err != nil {
		ps.writeErr(rw, err)
		return
	}
	ps.writeResponse(rw, NewShopResponse(shop))
}

func (ps *PosServer) updateShopPromptPay(rw http.ResponseWriter, req *http.Request) {
	id, err := shopIdVar(req)
	if err != nil {
		ps.writeErr(rw, err)
		return
	}

	var promptpayReq PromptPayRequest
	if err := decodeJsonReqBody(req, &promptpayReq); err != nil {
		ps.writeErr(rw, err)
		return
	}

	shop, err := ps.desk.UpdateShopPromptPay(id, promptpayReq.PromptPayId, promptpayReq.PromptPayKind)
	if err != nil {
		ps.writeErr(rw, err)
		return
	}
	ps.writeResponse(rw, NewShopResponse(shop))
}

func (ps *PosServer) listShopPayments(rw http.ResponseWriter, req *http.Request) {
	id, err := shopIdVar(req)
	if err != nil {
		ps.writeErr(rw, err)
		return
	}

	payments, err := ps.desk.ListShopPayments(id)
	if err != nil {
		ps.writeErr(rw, err)
		return
	}

	response := make([]PaymentResponse, len(payments))
	for i, payment := range payments {
		response[i] = NewPaymentResponse(payment)
	}
	ps.writeResponse(rw, response)
}

func (ps *PosServer) requestOrderPayment(rw http.ResponseWriter, req *http.Request) {
	id, err := shopIdVar(req)
	if err != nil {
		ps.writeErr(rw, err)
		return
	}

	var orderReq OrderPaymentRequest
	if err := decodeJsonReqBody(req, &orderReq); err != nil {
		ps.writeErr(rw, err)
		return
	}

	payment, err := ps.desk.RequestOrderPayment(id, mux.Vars(req)["order_ref"], orderReq.Amount)
	if err != nil {
		ps.writeErr(rw, err)
		return
	}
	rw.WriteHeader(http.StatusCreated)
	ps.writeResponse(rw, NewPaymentResponse(payment))
}

func (ps *PosServer) requestSubscriptionPayment(rw http.ResponseWriter, req *http.Request) {
	id, err := shopIdVar(req)
	if err != nil {
		ps.writeErr(rw, err)
		return
	}

	var subscriptionReq SubscriptionRequest
	if err := decodeJsonReqBody(req, &subscriptionReq); err != nil {
		ps.writeErr(rw, err)
		return
	}

	payment, err := ps.desk.RequestSubscriptionPayment(id, subscriptionReq.Plan)
	if err != nil {
		ps.writeErr(rw, err)
		return
	}
	rw.WriteHeader(http.StatusCreated)
	ps.writeResponse(rw, NewPaymentResponse(payment))
}

func (ps *PosServer) getPayment(rw http.ResponseWriter, req *http.Request) {
	payment, err := ps.desk.GetPaymentRequest(mux.Vars(req)["id"])
	if err != nil {
		ps.writeErr(rw, err)
		return
	}
	ps.writeResponse(rw, NewPaymentResponse(payment))
}

func (ps *PosServer) getPaymentQR(rw http.ResponseWriter, req *http.Request) {
	png, err := ps.desk.PaymentQR(mux.Vars(req)["id"])
	if err != nil {
		ps.writeErr(rw, err)
		return
	}
	ps.writePNG(rw, png)
}

func (ps *PosServer) markPaid(rw http.ResponseWriter, req *http.Request) {
	payment, err := ps.desk.MarkPaid(mux.Vars(req)["id"])
	if err != nil {
		ps.writeErr(rw, err)
		return
	}
	ps.writeResponse(rw, NewPaymentResponse(payment))
}

func (ps *PosServer) cancelPayment(rw http.ResponseWriter, req *http.Request) {
	payment, err := ps.desk.CancelPayment(mux.Vars(req)["id"])
	if err != nil {
		ps.writeErr(rw, err)
		return
	}
	ps.writeResponse(rw, NewPaymentResponse(payment))
}

// payloadQuery reads the payload parameters of a one-off payload
// from the url query.
func payloadQuery(req *http.Request) (string, string, promptpay.Options, error) {
	query := req.URL.Query()

	identifier := query.Get("id")
	kind := query.Get("kind")
	if len(kind) == 0 {
		kind = promptpay.Phone.String()
	}

	opts := promptpay.Options{
		MerchantName: query.Get("name"),
		MerchantCity: query.Get("city"),
		Reference:    query.Get("ref"),
	}

	if amountStr := query.Get("amount"); len(amountStr) > 0 {
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return "", "", promptpay.Options{}, BuildError(fmt.Sprintf("invalid amount '%v'", amountStr), InvalidAmountCode)
		}
		opts.Amount = &amount
	}

	if dynamicStr := query.Get("dynamic"); len(dynamicStr) > 0 {
		dynamic, err := strconv.ParseBool(strings.ToLower(dynamicStr))
		if err != nil {
			return "", "", promptpay.Options{}, BuildError(fmt.Sprintf("invalid dynamic flag '%v'", dynamicStr), StandardErrCode)
		}
		opts.Dynamic = &dynamic
	}

	return identifier, kind, opts, nil
}

func (ps *PosServer) generatePayload(rw http.ResponseWriter, req *http.Request) {
	identifier, kind, opts, err := payloadQuery(req)
	if err != nil {
		ps.writeErr(rw, err)
		return
	}

	payload, err := ps.desk.GeneratePayload(identifier, kind, opts)
	if err != nil {
		ps.writeErr(rw, err)
		return
	}
	ps.writeResponse(rw, PayloadResponse{Payload: payload})
}

func (ps *PosServer) generateQR(rw http.ResponseWriter, req *http.Request) {
	identifier, kind, opts, err := payloadQuery(req)
	if err != nil {
		ps.writeErr(rw, err)
		return
	}

	png, err := ps.desk.GenerateQR(identifier, kind, opts)
	if err != nil {
		ps.writeErr(rw, err)
		return
	}
	ps.writePNG(rw, png)
}

func (ps *PosServer) getTableQR(rw http.ResponseWriter, req *http.Request) {
	png, err := ps.desk.TableQR(mux.Vars(req)["table_id"])
	if err != nil {
		ps.writeErr(rw, err)
		return
	}
	ps.writePNG(rw, png)
}
