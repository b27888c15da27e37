package pos

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/tablepos/promptpay/pos/pubsub"
	"github.com/tablepos/promptpay/pos/storage"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// paymentWatcher pushes the state of a payment request to a
// websocket client until the payment is paid or cancelled.
type paymentWatcher struct {
	conn       *websocket.Conn
	desk       *PaymentDesk
	paymentId  string
	topic      string
	subscriber *pubsub.Subscriber

	// closed when the client goes away
	done chan struct{}

	msgSizeLimit int64
	pongWait     time.Duration
	pingInterval time.Duration
}

func (ps *PosServer) watchPayment(rw http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]

	// subscribe before reading the current state so no update gets lost
	topic := paymentTopic(id)
	subscriber := ps.desk.publisher.Subscribe(topic)
	payment, err := ps.desk.GetPaymentRequest(id)
	if err != nil {
		ps.desk.publisher.Unsubscribe(subscriber, topic)
		subscriber.Close()
		ps.writeErr(rw, err)
		return
	}

	conn, err := upgrader.Upgrade(rw, req, nil)
	if err != nil {
		ps.desk.publisher.Unsubscribe(subscriber, topic)
		subscriber.Close()
		ps.desk.logErrorf("could not upgrade to websocket connection: %v", err)
		return
	}
	ps.desk.logDebugf("websocket connection established for payment request '%v'", id)

	watcher := &paymentWatcher{
		conn:         conn,
		desk:         ps.desk,
		paymentId:    id,
		topic:        topic,
		subscriber:   subscriber,
		done:         make(chan struct{}),
		msgSizeLimit: 512,
		pongWait:     60 * time.Second,
		pingInterval: 30 * time.Second,
	}

	go watcher.readMessages()
	go watcher.writeMessages(payment)
}

// readMessages only handles control frames.
// Clients are not expected to send anything.
func (w *paymentWatcher) readMessages() {
	defer close(w.done)

	if err := w.conn.SetReadDeadline(time.Now().Add(w.pongWait)); err != nil {
		return
	}
	w.conn.SetReadLimit(w.msgSizeLimit)
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(w.pongWait))
	})

	for {
		if _, _, err := w.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				w.desk.logDebugf("detected unexpected closed connection: %v", err)
			}
			return
		}
	}
}

func (w *paymentWatcher) writeMessages(initial storage.PaymentRequest) {
	ticker := time.NewTicker(w.pingInterval)
	defer func() {
		ticker.Stop()
		w.close()
	}()

	if !w.send(NewPaymentResponse(initial)) || initial.State.Final() {
		return
	}

	messages := w.subscriber.GetMessages()
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}

			var payment PaymentResponse
			if err := json.Unmarshal(msg.Payload(), &payment); err != nil || payment.Id != w.paymentId {
				continue
			}
			if !w.send(payment) || storage.StringToState(payment.State).Final() {
				return
			}
		case <-w.subscriber.Missed():
			// an update was dropped, send the stored state instead
			payment, err := w.desk.GetPaymentRequest(w.paymentId)
			if err != nil {
				w.desk.logErrorf("could not get payment request '%v': %v. closing websocket connection", w.paymentId, err)
				return
			}
			if !w.send(NewPaymentResponse(payment)) || payment.State.Final() {
				return
			}
		case <-ticker.C:
			if err := w.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				w.desk.logErrorf("could not write ping message: %v. closing websocket connection", err)
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *paymentWatcher) send(payment PaymentResponse) bool {
	msg, _ := json.Marshal(payment)
	w.desk.logDebugf("sending websocket message: %s", msg)
	if err := w.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		w.desk.logErrorf("could not write message on websocket connection: %v", err)
		return false
	}
	return true
}

func (w *paymentWatcher) close() {
	w.desk.publisher.Unsubscribe(w.subscriber, w.topic)
	w.subscriber.Close()

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	w.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
	w.conn.Close()
}
