// Package mpesa talks to the Safaricom Daraja API: OAuth client credentials,
// Lipa na M-Pesa Online (STK push) and the asynchronous STK callback.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tillpoint/internal/cache"
	paymentdomain "github.com/smallbiznis/tillpoint/internal/payment/domain"
)

const (
	Provider = "mpesa"

	SandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	ProductionBaseURL = "https://api.safaricom.co.ke"

	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	stkPath   = "/mpesa/stkpush/v1/processrequest"

	transactionType = "CustomerPayBillOnline"
	tokenSkew       = time.Minute
	maxErrorBody    = 4 << 10
)

// Daraja expects the password timestamp in Nairobi time.
var nairobi = time.FixedZone("EAT", 3*60*60)

type Factory struct {
	client *http.Client
	tokens *cache.TTLCache[string, string]
	now    func() time.Time
}

func NewFactory(client *http.Client, tokens *cache.TTLCache[string, string]) *Factory {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if tokens == nil {
		tokens = cache.NewTTLCache[string, string]()
	}
	return &Factory{client: client, tokens: tokens, now: time.Now}
}

func (f *Factory) Provider() string {
	return Provider
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Gateway, error) {
	consumerKey, _ := readString(cfg.Config, "consumerKey")
	consumerSecret, _ := readString(cfg.Config, "consumerSecret")
	shortCode, _ := readString(cfg.Config, "shortCode")
	passkey, _ := readString(cfg.Config, "passkey")
	callbackURL, _ := readString(cfg.Config, "callbackUrl")
	if consumerKey == "" || consumerSecret == "" || shortCode == "" || passkey == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	if callbackURL == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	baseURL, _ := readString(cfg.Config, "baseUrl")
	if baseURL == "" {
		environment, _ := readString(cfg.Config, "environment")
		baseURL = SandboxBaseURL
		if strings.EqualFold(environment, "production") {
			baseURL = ProductionBaseURL
		}
	}

	return &Adapter{
		client:         f.client,
		tokens:         f.tokens,
		now:            f.now,
		baseURL:        strings.TrimRight(baseURL, "/"),
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		shortCode:      shortCode,
		passkey:        passkey,
		callbackURL:    callbackURL,
	}, nil
}

type Adapter struct {
	client *http.Client
	tokens *cache.TTLCache[string, string]
	now    func() time.Time

	baseURL        string
	consumerKey    string
	consumerSecret string
	shortCode      string
	passkey        string
	callbackURL    string
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type errorResponse struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type tokenResponse struct {
	AccessToken string          `json:"access_token"`
	ExpiresIn   json.RawMessage `json:"expires_in"`
}

func (a *Adapter) STKPush(ctx context.Context, req paymentdomain.STKPushRequest) (*paymentdomain.STKPushResult, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := a.now().In(nairobi).Format("20060102150405")
	body := stkPushRequest{
		BusinessShortCode: a.shortCode,
		Password:          base64.StdEncoding.EncodeToString([]byte(a.shortCode + a.passkey + timestamp)),
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            req.Amount,
		PartyA:            req.PhoneNumber,
		PartyB:            a.shortCode,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       a.callbackURL,
		AccountReference:  truncate(req.AccountReference, 12),
		TransactionDesc:   truncate(req.Description, 13),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+stkPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, transportError(err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		a.tokens.Delete(a.tokenKey())
	}
	if resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, raw)
	}

	var out stkPushResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &paymentdomain.GatewayError{
			Provider:   Provider,
			StatusCode: resp.StatusCode,
			Message:    "malformed stk push response",
			Err:        err,
		}
	}
	if out.ResponseCode != "0" {
		return nil, &paymentdomain.GatewayError{
			Provider:   Provider,
			StatusCode: resp.StatusCode,
			Code:       out.ResponseCode,
			Message:    out.ResponseDescription,
		}
	}
	if strings.TrimSpace(out.CheckoutRequestID) == "" {
		return nil, &paymentdomain.GatewayError{
			Provider:   Provider,
			StatusCode: resp.StatusCode,
			Message:    "stk push response missing CheckoutRequestID",
		}
	}

	return &paymentdomain.STKPushResult{
		MerchantRequestID:   out.MerchantRequestID,
		CheckoutRequestID:   out.CheckoutRequestID,
		ResponseCode:        out.ResponseCode,
		ResponseDescription: out.ResponseDescription,
		CustomerMessage:     out.CustomerMessage,
	}, nil
}

func (a *Adapter) accessToken(ctx context.Context) (string, error) {
	key := a.tokenKey()
	if token, ok := a.tokens.Get(key); ok {
		return token, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+tokenPath, nil)
	if err != nil {
		return "", err
	}
	httpReq.SetBasicAuth(a.consumerKey, a.consumerSecret)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", transportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", transportError(err)
	}
	if resp.StatusCode >= 300 {
		return "", statusError(resp.StatusCode, raw)
	}

	var out tokenResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.AccessToken == "" {
		return "", &paymentdomain.GatewayError{
			Provider:   Provider,
			StatusCode: resp.StatusCode,
			Message:    "malformed oauth response",
			Err:        err,
		}
	}

	ttl := time.Duration(parseSeconds(out.ExpiresIn))*time.Second - tokenSkew
	if ttl > 0 {
		a.tokens.Set(key, out.AccessToken, ttl)
	}
	return out.AccessToken, nil
}

func (a *Adapter) tokenKey() string {
	return a.baseURL + "|" + a.consumerKey
}

type callbackEnvelope struct {
	Body struct {
		StkCallback *struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        *int   `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []struct {
					Name  string          `json:"Name"`
					Value json.RawMessage `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback decodes the STK callback envelope. The metadata values are
// a mix of JSON numbers and strings depending on the field.
func (f *Factory) ParseCallback(payload []byte) (*paymentdomain.Callback, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrInvalidCallback, err)
	}
	stk := env.Body.StkCallback
	if stk == nil {
		return nil, fmt.Errorf("%w: missing stkCallback", paymentdomain.ErrInvalidCallback)
	}
	checkoutID := strings.TrimSpace(stk.CheckoutRequestID)
	if checkoutID == "" {
		return nil, fmt.Errorf("%w: missing CheckoutRequestID", paymentdomain.ErrInvalidCallback)
	}
	if stk.ResultCode == nil {
		return nil, fmt.Errorf("%w: missing ResultCode", paymentdomain.ErrInvalidCallback)
	}

	cb := &paymentdomain.Callback{
		Provider:          Provider,
		MerchantRequestID: strings.TrimSpace(stk.MerchantRequestID),
		CheckoutRequestID: checkoutID,
		ResultCode:        *stk.ResultCode,
		ResultDesc:        strings.TrimSpace(stk.ResultDesc),
		Outcome:           paymentdomain.OutcomeFor(*stk.ResultCode),
	}
	if cb.Outcome != paymentdomain.OutcomeSucceeded {
		return cb, nil
	}

	confirmation := &paymentdomain.Confirmation{}
	if stk.CallbackMetadata != nil {
		for _, item := range stk.CallbackMetadata.Item {
			value := rawString(item.Value)
			switch item.Name {
			case "MpesaReceiptNumber":
				confirmation.ReceiptNumber = value
			case "Amount":
				if amount, err := parseAmount(value); err == nil {
					confirmation.Amount = amount
				}
			case "PhoneNumber":
				confirmation.PhoneNumber = value
			}
		}
	}
	cb.Confirmation = confirmation
	return cb, nil
}

func transportError(err error) error {
	return &paymentdomain.GatewayError{
		Provider:  Provider,
		Message:   "gateway unreachable",
		Retryable: true,
		Err:       err,
	}
}

func statusError(status int, raw []byte) error {
	gwErr := &paymentdomain.GatewayError{
		Provider:   Provider,
		StatusCode: status,
		Retryable:  status >= 500 || status == http.StatusTooManyRequests,
		Message:    http.StatusText(status),
	}
	var body errorResponse
	if len(raw) > maxErrorBody {
		raw = raw[:maxErrorBody]
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.ErrorCode != "" {
			gwErr.Code = body.ErrorCode
		}
		if body.ErrorMessage != "" {
			gwErr.Message = body.ErrorMessage
		}
	}
	return gwErr
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

func parseSeconds(raw json.RawMessage) int64 {
	value, err := strconv.ParseInt(rawString(raw), 10, 64)
	if err != nil {
		return 0
	}
	return value
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast), true
	default:
		return "", false
	}
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}

var errEmptyAmount = errors.New("empty amount")

func parseAmount(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, errEmptyAmount
	}
	return decimal.NewFromString(value)
}
