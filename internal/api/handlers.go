package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/twilio/twilio-go/twiml"

	"github.com/BTreeMap/Palabra/internal/messaging"
	"github.com/BTreeMap/Palabra/internal/models"
)

// twilioWebhookHandler acknowledges an inbound Twilio message with an empty
// TwiML response and queues it. Turns can outlast Twilio's webhook timeout,
// so the reply is always sent separately.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		slog.Warn("Server.twilioWebhookHandler: Twilio transport not active")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioWebhookHandler: failed to parse form", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !s.validator.Validate(s.webhookURL, params, r.Header.Get(TwilioSignatureHeader)) {
			slog.Warn("Server.twilioWebhookHandler: invalid signature", "remote", r.RemoteAddr)
			w.WriteHeader(http.StatusForbidden)
			return
		}
	}

	msg := models.InboundMessage{
		From:      r.PostForm.Get("From"),
		Body:      r.PostForm.Get("Body"),
		MessageID: r.PostForm.Get("MessageSid"),
	}
	if err := msg.Validate(); err != nil {
		slog.Warn("Server.twilioWebhookHandler: ignoring message", "error", err, "from", msg.From)
		writeTwiML(w)
		return
	}
	phone, err := messaging.CanonicalizePhone(msg.From)
	if err != nil {
		slog.Warn("Server.twilioWebhookHandler: invalid sender", "error", err, "from", msg.From)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !s.queue.Deliver(msg) {
		slog.Error("Server.twilioWebhookHandler: failed to queue message", "message_sid", msg.MessageID, "phone", phone)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	slog.Debug("Server.twilioWebhookHandler: message queued", "message_sid", msg.MessageID, "phone", phone)
	writeTwiML(w)
}

// writeTwiML writes an empty messaging TwiML document, which tells Twilio
// the message was accepted and needs no inline answer.
func writeTwiML(w http.ResponseWriter) {
	doc, err := twiml.Messages(nil)
	if err != nil {
		slog.Error("Server.writeTwiML: failed to render TwiML", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(doc)); err != nil {
		slog.Error("Server.writeTwiML: failed to write response", "error", err)
	}
}

type simulateRequest struct {
	From string `json:"from"`
	Body string `json:"body"`
}

// simulateHandler runs one turn and returns the reply as JSON.
func (s *Server) simulateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.simulateHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	msg := models.InboundMessage{From: req.From, Body: req.Body}
	if err := msg.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	phone, err := messaging.CanonicalizePhone(req.From)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	reply := s.handler.HandleMessage(r.Context(), phone, req.Body)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"reply": reply}))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// errorBody is sent when a response cannot be marshaled.
var errorBody = []byte(`{"status":"error","message":"Internal server error"}`)

// writeJSONResponse marshals v before touching headers so a marshal failure
// still yields a well-formed 500.
func writeJSONResponse(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal response", "error", err)
		body, status = errorBody, http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Error("Server.writeJSONResponse: failed to write response", "error", err)
	}
}
