package epx

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kevin07696/phonepay-ivr/internal/domain"
	"github.com/kevin07696/phonepay-ivr/internal/domain/ports"
	pkgerrors "github.com/kevin07696/phonepay-ivr/pkg/errors"
)

// TranTypeSale is an ecommerce card sale (auth + capture)
const TranTypeSale = "CCE1"

// ServerPostConfig contains configuration for the EPX Server Post gateway
type ServerPostConfig struct {
	// Sandbox: https://secure.epxuap.com
	// Production: https://epxnow.com/epx/server_post
	BaseURL string

	Timeout            time.Duration
	InsecureSkipVerify bool

	// Merchant credentials
	CustNbr     string
	MerchNbr    string
	DBANbr      string
	TerminalNbr string

	// CardEntryMethod X is manually keyed; IndustryType E is card-not-present
	CardEntryMethod string
	IndustryType    string

	// SoftwareID identifies this application to the processor
	SoftwareID string

	CircuitBreaker CircuitBreakerConfig
}

// DefaultServerPostConfig returns default configuration for an environment
func DefaultServerPostConfig(environment string) *ServerPostConfig {
	baseURL := "https://epxnow.com/epx/server_post"
	if environment == "sandbox" {
		baseURL = "https://secure.epxuap.com"
	}

	return &ServerPostConfig{
		BaseURL:            baseURL,
		Timeout:            10 * time.Second,
		InsecureSkipVerify: false,
		CardEntryMethod:    "X",
		IndustryType:       "E",
		SoftwareID:         "phonepay-ivr",
		CircuitBreaker:     DefaultCircuitBreakerConfig(),
	}
}

// serverPostAdapter charges keyed cards through EPX Server Post
type serverPostAdapter struct {
	config         *ServerPostConfig
	httpClient     *http.Client
	logger         *zap.Logger
	circuitBreaker *CircuitBreaker
	now            func() time.Time
}

// NewServerPostAdapter creates the EPX payment gateway
func NewServerPostAdapter(config *ServerPostConfig, logger *zap.Logger) ports.PaymentGateway {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		},
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 50,
		IdleConnTimeout:     90 * time.Second,
	}

	return newServerPostAdapter(config, &http.Client{Timeout: config.Timeout, Transport: transport}, logger)
}

func newServerPostAdapter(config *ServerPostConfig, client *http.Client, logger *zap.Logger) *serverPostAdapter {
	cbConfig := config.CircuitBreaker
	if cbConfig.MaxFailures == 0 {
		cbConfig = DefaultCircuitBreakerConfig()
	}
	onChange := cbConfig.OnStateChange
	cbConfig.OnStateChange = func(from, to CircuitState) {
		logger.Warn("EPX circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		if onChange != nil {
			onChange(from, to)
		}
	}

	return &serverPostAdapter{
		config:         config,
		httpClient:     client,
		logger:         logger,
		circuitBreaker: NewCircuitBreaker(cbConfig),
		now:            time.Now,
	}
}

// Charge submits exactly one sale. It is never retried here: a second
// submission after an ambiguous failure could charge the caller twice.
func (a *serverPostAdapter) Charge(ctx context.Context, req domain.ChargeRequest) domain.ChargeResult {
	if err := a.validateRequest(req); err != nil {
		a.logger.Error("Invalid charge request",
			zap.String("charge_ref", req.ChargeRef),
			zap.Error(err),
		)
		return domain.GatewayError{Detail: err.Error()}
	}

	form := a.buildFormData(req)

	a.logger.Info("Submitting EPX sale",
		zap.String("charge_ref", req.ChargeRef),
		zap.String("tran_nbr", form.Get("TRAN_NBR")),
		zap.String("amount", form.Get("AMOUNT")),
		zap.String("card", domain.MaskCard(req.CardNumber)),
	)

	var resp *serverPostResponse
	err := a.circuitBreaker.Call(func() error {
		var callErr error
		resp, callErr = a.post(ctx, form)
		return callErr
	})
	if err != nil {
		a.logger.Error("EPX sale failed",
			zap.String("charge_ref", req.ChargeRef),
			zap.String("circuit", a.circuitBreaker.State().String()),
			zap.Error(err),
		)
		return domain.GatewayError{Detail: gatewayDetail(err)}
	}

	result := resp.toChargeResult()
	a.logger.Info("EPX sale completed",
		zap.String("charge_ref", req.ChargeRef),
		zap.String("auth_resp", resp.AuthResp),
		zap.String("outcome", string(result.Outcome())),
		zap.String("auth_guid", resp.AuthGUID),
	)
	return result
}

func gatewayDetail(err error) string {
	switch {
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrTooManyRequests):
		return "gateway unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "gateway timeout"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	default:
		return err.Error()
	}
}

func (a *serverPostAdapter) post(ctx context.Context, form url.Values) (*serverPostResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, pkgerrors.NewGatewayError("build request", pkgerrors.CategoryInvalidRequest, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := a.now()
	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.NewGatewayError("send request", pkgerrors.CategoryNetworkError, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, pkgerrors.NewGatewayError("read response", pkgerrors.CategoryNetworkError, err)
	}

	a.logger.Debug("Received EPX response",
		zap.Int("status_code", httpResp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("body_length", len(body)),
	)

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, pkgerrors.NewGatewayError("unexpected status", pkgerrors.CategorySystemError,
			fmt.Errorf("status %d", httpResp.StatusCode))
	}

	parsed, err := parseResponse(body)
	if err != nil {
		return nil, pkgerrors.NewGatewayError("parse response", pkgerrors.CategorySystemError, err)
	}
	return parsed, nil
}

func (a *serverPostAdapter) validateRequest(req domain.ChargeRequest) error {
	switch {
	case a.config.CustNbr == "":
		return pkgerrors.NewValidationError("cust_nbr", "cust_nbr is required")
	case a.config.MerchNbr == "":
		return pkgerrors.NewValidationError("merch_nbr", "merch_nbr is required")
	case a.config.DBANbr == "":
		return pkgerrors.NewValidationError("dba_nbr", "dba_nbr is required")
	case a.config.TerminalNbr == "":
		return pkgerrors.NewValidationError("terminal_nbr", "terminal_nbr is required")
	case req.ChargeRef == "":
		return pkgerrors.NewValidationError("charge_ref", "charge_ref is required")
	case req.AmountCents <= 0:
		return pkgerrors.NewValidationError("amount", "amount must be positive")
	case req.CardNumber == "":
		return pkgerrors.NewValidationError("card", "card number is required")
	case len(req.Expiry) != 4:
		return pkgerrors.NewValidationError("expiry", "expiry must be MMYY")
	}
	return nil
}

func (a *serverPostAdapter) buildFormData(req domain.ChargeRequest) url.Values {
	data := url.Values{}

	data.Set("CUST_NBR", a.config.CustNbr)
	data.Set("MERCH_NBR", a.config.MerchNbr)
	data.Set("DBA_NBR", a.config.DBANbr)
	data.Set("TERMINAL_NBR", a.config.TerminalNbr)

	data.Set("TRAN_TYPE", TranTypeSale)
	data.Set("AMOUNT", domain.CentsToDecimal(req.AmountCents).StringFixed(2))
	data.Set("TRAN_NBR", TranNbr(req.ChargeRef))
	data.Set("USER_DATA_1", req.ChargeRef)

	now := a.now()
	data.Set("BATCH_ID", now.Format("20060102"))
	data.Set("LOCAL_DATE", now.Format("010206"))
	data.Set("LOCAL_TIME", now.Format("150405"))

	data.Set("ACCOUNT_NBR", req.CardNumber)
	// EPX expects YYMM; callers key MMYY
	data.Set("EXP_DATE", req.Expiry[2:]+req.Expiry[:2])
	if req.CVV != "" {
		data.Set("CVV2", req.CVV)
	}
	if req.Zip != "" {
		data.Set("ZIP_CODE", req.Zip)
	}
	if a.config.CardEntryMethod != "" {
		data.Set("CARD_ENT_METH", a.config.CardEntryMethod)
	}
	if a.config.IndustryType != "" {
		data.Set("INDUSTRY_TYPE", a.config.IndustryType)
	}
	if a.config.SoftwareID != "" {
		data.Set("SOFTWARE_ID", a.config.SoftwareID)
	}

	if first, last := splitName(req.CustomerName); first != "" {
		data.Set("FIRST_NAME", first)
		if last != "" {
			data.Set("LAST_NAME", last)
		}
	}
	if req.CustomerID != "" {
		data.Set("USER_DATA_2", req.CustomerID)
	}

	return data
}

// TranNbr derives the numeric merchant transaction number EPX requires from
// a charge reference. The same reference always yields the same number.
func TranNbr(chargeRef string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(chargeRef))
	return strconv.FormatUint(uint64(h.Sum32()), 10)
}

func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

// epxResponse is the XML form: <RESPONSE><FIELDS><FIELD KEY="...">
type epxResponse struct {
	XMLName xml.Name  `xml:"RESPONSE"`
	Fields  epxFields `xml:"FIELDS"`
}

type epxFields struct {
	Fields []epxField `xml:"FIELD"`
}

type epxField struct {
	Key   string `xml:"KEY,attr"`
	Value string `xml:",chardata"`
}

type serverPostResponse struct {
	AuthGUID     string
	AuthResp     string
	AuthCode     string
	AuthRespText string
	TranNbr      string
}

func (r *serverPostResponse) toChargeResult() domain.ChargeResult {
	info := GetResponseCodeInfo(r.AuthResp)
	switch {
	case info.IsApproved:
		return domain.Approved{TransactionID: r.AuthGUID, AuthCode: r.AuthCode}
	case info.IsSystemError():
		return domain.GatewayError{Detail: describe(r, info)}
	default:
		return domain.Declined{Reason: describe(r, info)}
	}
}

func describe(r *serverPostResponse, info ResponseCodeInfo) string {
	if r.AuthRespText != "" {
		return r.AuthRespText
	}
	return info.Description
}

// parseResponse accepts both the XML and the url-encoded response formats
func parseResponse(body []byte) (*serverPostResponse, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, errors.New("empty response")
	}

	fields := map[string]string{}
	if strings.HasPrefix(trimmed, "<") {
		var doc epxResponse
		if err := xml.Unmarshal([]byte(trimmed), &doc); err != nil {
			return nil, fmt.Errorf("unmarshal XML: %w", err)
		}
		for _, f := range doc.Fields.Fields {
			fields[f.Key] = strings.TrimSpace(f.Value)
		}
	} else {
		params, err := url.ParseQuery(trimmed)
		if err != nil {
			return nil, fmt.Errorf("parse key-value response: %w", err)
		}
		for key := range params {
			fields[key] = params.Get(key)
		}
	}

	resp := &serverPostResponse{
		AuthGUID:     fields["AUTH_GUID"],
		AuthResp:     fields["AUTH_RESP"],
		AuthCode:     fields["AUTH_CODE"],
		AuthRespText: fields["AUTH_RESP_TEXT"],
		TranNbr:      fields["TRAN_NBR"],
	}
	if resp.AuthResp == "" {
		return nil, errors.New("AUTH_RESP is missing from response")
	}
	if GetResponseCodeInfo(resp.AuthResp).IsApproved && resp.AuthGUID == "" {
		return nil, errors.New("AUTH_GUID is missing from approved response")
	}
	return resp, nil
}
