package pos

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/tablepos/promptpay/pos/storage"
)

func newTestRouter(t *testing.T, config Config) (*mux.Router, *PosServer) {
	t.Helper()

	desk := newTestDesk(t, config)
	server := &PosServer{desk: desk, logger: desk.logger}
	return server.router(), server
}

func doRequest(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if len(body) > 0 {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) Error {
	t.Helper()

	var errRes Error
	if err := json.Unmarshal(w.Body.Bytes(), &errRes); err != nil {
		t.Fatalf("error decoding error response '%s': %v", w.Body.String(), err)
	}
	return errRes
}

func TestShopHandlers(t *testing.T) {
	router, _ := newTestRouter(t, Config{})

	w := doRequest(router, http.MethodPost, "/v1/shops", `{"name":"Krua Thai"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status code %d but got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS header in response")
	}

	var shop ShopResponse
	if err := json.Unmarshal(w.Body.Bytes(), &shop); err != nil {
		t.Fatalf("error decoding shop response: %v", err)
	}
	if shop.Name != "Krua Thai" || shop.Id == 0 {
		t.Fatalf("unexpected shop response %+v", shop)
	}

	path := fmt.Sprintf("/v1/shops/%v/promptpay", shop.Id)
	w = doRequest(router, http.MethodPut, path, `{"promptpay_id":"081-234-5678","promptpay_kind":"PHONE"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status code %d but got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	w = doRequest(router, http.MethodGet, fmt.Sprintf("/v1/shops/%v", shop.Id), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status code %d but got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var dbShop ShopResponse
	if err := json.Unmarshal(w.Body.Bytes(), &dbShop); err != nil {
		t.Fatalf("error decoding shop response: %v", err)
	}
	expected := ShopResponse{Id: shop.Id, Name: "Krua Thai", PromptPayId: "081-234-5678", PromptPayKind: "PHONE"}
	if dbShop != expected {
		t.Fatalf("expected shop %+v but got %+v", expected, dbShop)
	}

	tests := []struct {
		method       string
		path         string
		body         string
		expectedCode int
		expectedErr  Error
	}{
		{http.MethodPost, "/v1/shops", "", http.StatusBadRequest, EmptyBodyErr},
		{http.MethodPost, "/v1/shops", `{"name":" "}`, http.StatusBadRequest, InvalidShopNameErr},
		{http.MethodGet, "/v1/shops/9999", "", http.StatusNotFound, ShopNotExistErr},
		{http.MethodGet, "/v1/shops/abc", "", http.StatusNotFound, ShopNotExistErr},
		{http.MethodPut, path, `{"promptpay_id":"abc","promptpay_kind":"PHONE"}`, http.StatusBadRequest, InvalidIdentifierErr},
		{http.MethodPut, path, `{"promptpay_id":"0812345678","promptpay_kind":"EWALLET"}`, http.StatusBadRequest, UnsupportedIdentifierKindErr},
	}

	for _, test := range tests {
		w := doRequest(router, test.method, test.path, test.body)
		if w.Code != test.expectedCode {
			t.Fatalf("%v %v: expected status code %d but got %d", test.method, test.path, test.expectedCode, w.Code)
		}
		if errRes := decodeErr(t, w); errRes != test.expectedErr {
			t.Fatalf("%v %v: expected error %+v but got %+v", test.method, test.path, test.expectedErr, errRes)
		}
	}
}

func TestPaymentHandlers(t *testing.T) {
	router, server := newTestRouter(t, Config{})
	shop := registerTestShop(t, server.desk, "Krua Thai")

	path := fmt.Sprintf("/v1/shops/%v/orders/T5-001/promptpay", shop.Id)
	w := doRequest(router, http.MethodPost, path, `{"amount":"250"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status code %d but got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}

	var payment PaymentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &payment); err != nil {
		t.Fatalf("error decoding payment response: %v", err)
	}
	expectedPayload := "00020101021229350016A00000067701011101116681234567853037645406250.005802TH5909Krua Thai6007BANGKOK62150511ORDERT5-001630426A9"
	if payment.Payload != expectedPayload || payment.Amount != "250.00" || payment.State != "PENDING" || payment.Kind != "ORDER" {
		t.Fatalf("unexpected payment response %+v", payment)
	}

	w = doRequest(router, http.MethodPost, path, `{"amount":0}`)
	if w.Code != http.StatusBadRequest || decodeErr(t, w) != InvalidAmountErr {
		t.Fatalf("expected invalid amount error but got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(router, http.MethodGet, "/v1/payments/"+payment.Id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status code %d but got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	w = doRequest(router, http.MethodGet, "/v1/payments/"+payment.Id+"/qr.png", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status code %d but got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if w.Header().Get("Content-Type") != "image/png" || !bytes.HasPrefix(w.Body.Bytes(), pngSignature) {
		t.Fatal("expected PNG response")
	}

	w = doRequest(router, http.MethodPost, "/v1/payments/"+payment.Id+"/paid", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status code %d but got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var paid PaymentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &paid); err != nil {
		t.Fatalf("error decoding payment response: %v", err)
	}
	if paid.State != "PAID" || paid.PaidAt == 0 {
		t.Fatalf("unexpected payment response %+v", paid)
	}

	w = doRequest(router, http.MethodPost, "/v1/payments/"+payment.Id+"/cancel", "")
	if w.Code != http.StatusBadRequest || decodeErr(t, w) != PaymentAlreadyPaidErr {
		t.Fatalf("expected already paid error but got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(router, http.MethodGet, "/v1/payments/not-a-payment", "")
	if w.Code != http.StatusNotFound || decodeErr(t, w) != PaymentNotExistErr {
		t.Fatalf("expected payment not exist error but got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(router, http.MethodGet, fmt.Sprintf("/v1/shops/%v/payments", shop.Id), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status code %d but got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var payments []PaymentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &payments); err != nil {
		t.Fatalf("error decoding payments response: %v", err)
	}
	if len(payments) != 1 || payments[0].Id != payment.Id {
		t.Fatalf("unexpected payments response %+v", payments)
	}
}

func TestSubscriptionHandler(t *testing.T) {
	router, server := newTestRouter(t, Config{})
	shop := registerTestShop(t, server.desk, "Rice Bowl")

	path := fmt.Sprintf("/v1/shops/%v/subscriptions", shop.Id)
	w := doRequest(router, http.MethodPost, path, `{"plan":"ANNUAL"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status code %d but got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	var payment PaymentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &payment); err != nil {
		t.Fatalf("error decoding payment response: %v", err)
	}
	if payment.Kind != "SUBSCRIPTION" || payment.Amount != "2990.00" || payment.Reference != "SUB1" {
		t.Fatalf("unexpected payment response %+v", payment)
	}

	w = doRequest(router, http.MethodPost, path, `{"plan":"LIFETIME"}`)
	if w.Code != http.StatusBadRequest || decodeErr(t, w) != UnknownPlanErr {
		t.Fatalf("expected unknown plan error but got %d: %s", w.Code, w.Body.String())
	}
	w = doRequest(router, http.MethodPost, path, `{"plan":"ANNUAL","discount":10}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status code %d but got %d", http.StatusBadRequest, w.Code)
	}
}

func TestPromptPayHandlers(t *testing.T) {
	router, _ := newTestRouter(t, Config{})

	query := url.Values{}
	query.Set("id", "0812345678")
	query.Set("amount", "100")
	query.Set("name", "Test Shop")
	query.Set("city", "Bangkok")
	query.Set("ref", "ORDER1")

	w := doRequest(router, http.MethodGet, "/v1/promptpay?"+query.Encode(), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status code %d but got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var payloadRes PayloadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &payloadRes); err != nil {
		t.Fatalf("error decoding payload response: %v", err)
	}
	expected := "00020101021229350016A00000067701011101116681234567853037645406100.005802TH5909Test Shop6007Bangkok62100506ORDER16304C67A"
	if payloadRes.Payload != expected {
		t.Fatalf("expected payload '%v' but got '%v'", expected, payloadRes.Payload)
	}

	w = doRequest(router, http.MethodGet, "/v1/promptpay/qr.png?"+query.Encode(), "")
	if w.Code != http.StatusOK || !bytes.HasPrefix(w.Body.Bytes(), pngSignature) {
		t.Fatalf("expected PNG response but got %d", w.Code)
	}

	tests := []struct {
		query        string
		expectedCode ErrCode
	}{
		{"id=0812345678&amount=ten", InvalidAmountCode},
		{"id=0812345678&amount=-5", InvalidAmountCode},
		{"id=0812345678&dynamic=maybe", StandardErrCode},
		{"id=0812345678&kind=EMAIL", PromptPayErrCode},
		{"kind=PHONE", PromptPayErrCode},
		{"id=0812345678&name=" + strings.Repeat("A", 100), PayloadErrCode},
	}
	for _, test := range tests {
		w := doRequest(router, http.MethodGet, "/v1/promptpay?"+test.query, "")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%v: expected status code %d but got %d", test.query, http.StatusBadRequest, w.Code)
		}
		if errRes := decodeErr(t, w); errRes.Code != test.expectedCode {
			t.Fatalf("%v: expected error code %d but got %+v", test.query, test.expectedCode, errRes)
		}
	}
}

func TestTableQRHandler(t *testing.T) {
	router, _ := newTestRouter(t, Config{})
	w := doRequest(router, http.MethodGet, "/v1/tables/T5/qr.png", "")
	if w.Code != http.StatusBadRequest || decodeErr(t, w) != PublicURLNotSetErr {
		t.Fatalf("expected public url error but got %d: %s", w.Code, w.Body.String())
	}

	router, _ = newTestRouter(t, Config{PublicURL: "https://pos.example.com"})
	w = doRequest(router, http.MethodGet, "/v1/tables/T5/qr.png", "")
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("expected PNG response but got %d", w.Code)
	}
}

func TestOptionsRequest(t *testing.T) {
	router, _ := newTestRouter(t, Config{})
	w := doRequest(router, http.MethodOptions, "/v1/shops", "")
	if w.Code != http.StatusOK || w.Body.Len() != 0 {
		t.Fatalf("expected empty ok response but got %d: %s", w.Code, w.Body.String())
	}
	if methods := w.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(methods, "PUT") {
		t.Fatalf("expected PUT in allowed methods but got '%v'", methods)
	}
}

func TestWatchPayment(t *testing.T) {
	router, server := newTestRouter(t, Config{})
	shop := registerTestShop(t, server.desk, "Noodle Bar")

	httpServer := httptest.NewServer(router)
	defer httpServer.Close()

	payment, err := server.desk.RequestOrderPayment(shop.Id, "9", server.desk.config.Plans[MonthlyPlan].Price)
	if err != nil {
		t.Fatalf("unexpected error requesting order payment: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/v1/payments/" + payment.Id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("error dialing websocket: %v", err)
	}
	defer conn.Close()

	readPayment := func() PaymentResponse {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var res PaymentResponse
		if err := conn.ReadJSON(&res); err != nil {
			t.Fatalf("error reading websocket message: %v", err)
		}
		return res
	}

	if initial := readPayment(); initial.Id != payment.Id || initial.State != storage.Pending.String() {
		t.Fatalf("unexpected initial state %+v", initial)
	}

	// payments of other orders are not pushed and do not crowd out the watched one
	for i := 0; i < 40; i++ {
		other, err := server.desk.RequestOrderPayment(shop.Id, fmt.Sprintf("other-%d", i), payment.Amount)
		if err != nil {
			t.Fatalf("unexpected error requesting order payment: %v", err)
		}
		if _, err := server.desk.CancelPayment(other.Id); err != nil {
			t.Fatalf("unexpected error cancelling payment: %v", err)
		}
	}

	if _, err := server.desk.MarkPaid(payment.Id); err != nil {
		t.Fatalf("unexpected error marking payment paid: %v", err)
	}
	if update := readPayment(); update.Id != payment.Id || update.State != storage.Paid.String() {
		t.Fatalf("unexpected payment update %+v", update)
	}

	// connection is closed once the payment reached a final state
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close but got '%v'", err)
	}

	w := doRequest(router, http.MethodGet, "/v1/payments/not-a-payment/ws", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status code %d but got %d", http.StatusNotFound, w.Code)
	}
}
