// Package ivr serves the carrier webhooks of the phone payment flow.
package ivr

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kevin07696/phonepay-ivr/internal/domain"
	"github.com/kevin07696/phonepay-ivr/internal/ivr/callparams"
	"github.com/kevin07696/phonepay-ivr/internal/ivr/flow"
	"github.com/kevin07696/phonepay-ivr/internal/ivr/twiml"
	serviceports "github.com/kevin07696/phonepay-ivr/internal/services/ports"
)

const (
	// PaymentPath receives every step of the payment flow
	PaymentPath = "/ivr/payment"
	// EscalatePath hands the caller to a representative
	EscalatePath = "/ivr/escalate"

	// ReasonThrottled is the escalation reason for rate-limited requests
	ReasonThrottled = "throttled"

	contentTypeXML = "text/xml; charset=utf-8"
	maxBodyBytes   = 64 << 10
)

// Handler answers carrier webhooks. Every response is a 200 with call-control
// markup: an error status would make the carrier drop the call.
type Handler struct {
	svc    serviceports.IVRPaymentService
	logger *zap.Logger
}

// NewHandler creates a new IVR webhook handler
func NewHandler(svc serviceports.IVRPaymentService, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the webhook routes on r. paymentMW wraps only the payment
// route so a throttled caller can still reach a representative.
func (h *Handler) Register(r chi.Router, paymentMW ...func(http.Handler) http.Handler) {
	pr := r.With(paymentMW...)
	pr.Get(PaymentPath, h.HandlePayment)
	pr.Post(PaymentPath, h.HandlePayment)
	r.Get(EscalatePath, h.HandleEscalate)
	r.Post(EscalatePath, h.HandleEscalate)
}

// HandlePayment runs one step of the flow
// POST /ivr/payment?step=EnterCard&customer_id=...&amount=... with Digits in the body
func (h *Handler) HandlePayment(rw http.ResponseWriter, r *http.Request) {
	w := chimiddleware.NewWrapResponseWriter(rw, r.ProtoMajor)
	var cc domain.CallContext
	defer h.recoverFault(w, &cc)

	params, err := requestParams(w, r)
	if err != nil {
		h.logger.Warn("Failed to read IVR request", zap.String("path", r.URL.Path), zap.Error(err))
		h.write(w, h.svc.Fault(cc, flow.ReasonInvalidContext))
		return
	}

	cc, err = callparams.Decode(params)
	if err != nil {
		cc = partialContext(params)
		// err never carries card fields: the decoder reports only the step,
		// amount, retry and customer checks.
		h.logger.Warn("Rejected IVR call context",
			zap.String("step", params.Get(callparams.ParamStep)),
			zap.String("call_log_id", cc.CallLogID),
			zap.Error(err),
		)
		h.write(w, h.svc.Fault(cc, flow.ReasonInvalidContext))
		return
	}

	h.logger.Debug("IVR step",
		zap.String("step", cc.Step.String()),
		zap.String("call_log_id", cc.CallLogID),
		zap.Int("retry", cc.RetryCount),
	)
	h.write(w, h.svc.HandleStep(r.Context(), cc, callparams.Digits(params)))
}

// HandleEscalate connects the caller to a representative. It is reached from
// gather timeouts and please-hold redirects, so it escalates even when the
// context cannot be fully decoded.
// POST /ivr/escalate?step=...&reason=timeout
func (h *Handler) HandleEscalate(rw http.ResponseWriter, r *http.Request) {
	w := chimiddleware.NewWrapResponseWriter(rw, r.ProtoMajor)
	var cc domain.CallContext
	defer h.recoverFault(w, &cc)

	params, err := requestParams(w, r)
	if err != nil {
		h.logger.Warn("Failed to read escalation request", zap.Error(err))
		params = r.URL.Query()
	}

	cc, err = callparams.Decode(params)
	if err != nil {
		cc = partialContext(params)
	}
	h.write(w, h.svc.Escalate(r.Context(), cc, strings.TrimSpace(params.Get(callparams.ParamReason))))
}

// Throttled answers a rate-limited payment request with the please-hold
// response, which sends the caller to the escalation route.
func (h *Handler) Throttled(w http.ResponseWriter, r *http.Request) {
	h.write(w, h.svc.Fault(partialContext(r.URL.Query()), ReasonThrottled))
}

// recoverFault turns a panic into the please-hold response. cc is whatever
// was decoded before the panic. A response that was already started is left
// alone: a second document would corrupt the markup the carrier reads.
func (h *Handler) recoverFault(w chimiddleware.WrapResponseWriter, cc *domain.CallContext) {
	rec := recover()
	if rec == nil {
		return
	}
	started := w.Status() != 0 || w.BytesWritten() > 0
	h.logger.Error("Panic while handling IVR request",
		zap.String("panic", fmt.Sprint(rec)),
		zap.String("step", cc.Step.String()),
		zap.String("call_log_id", cc.CallLogID),
		zap.Bool("response_started", started),
		zap.ByteString("stack", debug.Stack()),
	)
	if started {
		return
	}
	h.write(w, h.svc.Fault(*cc, flow.ReasonInternalError))
}

func (h *Handler) write(w http.ResponseWriter, resp *twiml.Response) {
	w.Header().Set("Content-Type", contentTypeXML)
	w.WriteHeader(http.StatusOK)
	if _, err := resp.WriteTo(w); err != nil {
		h.logger.Error("Failed to write IVR response", zap.Error(err))
	}
}

// partialContext keeps the identity fields of a context that failed to
// decode so the hand-off can still reach the right representative.
func partialContext(v url.Values) domain.CallContext {
	caller := strings.TrimSpace(v.Get(callparams.ParamCallerNumber))
	if caller == "" {
		caller = strings.TrimSpace(v.Get(callparams.ParamFrom))
	}
	callLogID := strings.TrimSpace(v.Get(callparams.ParamCallLogID))
	if callLogID == "" {
		callLogID = strings.TrimSpace(v.Get(callparams.ParamCallSid))
	}
	return domain.CallContext{
		CallerNumber:  caller,
		CustomerID:    strings.TrimSpace(v.Get(callparams.ParamCustomerID)),
		CustomerName:  strings.TrimSpace(v.Get(callparams.ParamCustomerName)),
		ForwardNumber: strings.TrimSpace(v.Get(callparams.ParamForwardNumber)),
		CallLogID:     callLogID,
		Step:          domain.Step(strings.TrimSpace(v.Get(callparams.ParamStep))),
	}
}

// requestParams merges the query string with a form or JSON body. Query
// values win: they carry the flow state the service wrote, while the body
// carries what the carrier adds (Digits, From, CallSid).
func requestParams(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	params := r.URL.Query()
	if r.Body == nil || r.Method == http.MethodGet {
		return params, nil
	}

	var body url.Values
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		values, err := decodeJSONBody(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			return params, err
		}
		body = values
	case "application/x-www-form-urlencoded":
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return params, fmt.Errorf("parse form: %w", err)
		}
		body = r.PostForm
	default:
		return params, nil
	}

	for key, values := range body {
		if _, ok := params[key]; !ok {
			params[key] = values
		}
	}
	return params, nil
}

func decodeJSONBody(body io.Reader) (url.Values, error) {
	dec := json.NewDecoder(body)
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode json body: %w", err)
	}

	values := url.Values{}
	for key, v := range raw {
		switch tv := v.(type) {
		case nil:
		case string:
			values.Set(key, tv)
		case json.Number:
			values.Set(key, tv.String())
		case bool:
			values.Set(key, fmt.Sprint(tv))
		default:
			return nil, fmt.Errorf("json field %q is not a scalar", key)
		}
	}
	return values, nil
}
