package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	stkPath   = "/mpesa/stkpush/v1/processrequest"
	b2cPath   = "/mpesa/b2c/v1/paymentrequest"

	timestampLayout = "20060102150405"

	// tokenSafetyMargin: за сколько до истечения токен считается устаревшим.
	tokenSafetyMargin = time.Minute
)

// ErrRejected возвращается, когда шлюз принял запрос, но отказал в его выполнении.
var ErrRejected = errors.New("gateway: request rejected")

// Config: параметры подключения к шлюзу мобильных платежей.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	CallbackURL    string

	B2CInitiator          string
	B2CSecurityCredential string
	B2CResultURL          string

	Timeout time.Duration
}

// Client обращается к шлюзу по HTTP. Безопасен для конкурентного использования.
type Client struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient создаёт клиента шлюза.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}
}

// STKPushRequest: запрос на списание с телефона плательщика.
type STKPushRequest struct {
	Phone            string
	Amount           int64
	AccountReference string
	Description      string
}

// STKPushResponse: синхронный ответ шлюза. CheckoutRequestID связывает
// запрос с будущим асинхронным подтверждением.
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// DisburseRequest: запрос на выплату исполнителю (B2C).
type DisburseRequest struct {
	Phone    string
	Amount   int64
	Remarks  string
	Occasion string
}

type DisburseResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

// STKPush инициирует списание. Пустой CheckoutRequestID считается ошибкой.
func (c *Client) STKPush(ctx context.Context, req STKPushRequest) (*STKPushResponse, error) {
	timestamp := c.now().Format(timestampLayout)
	password := base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.PassKey + timestamp))

	payload := map[string]any{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          password,
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            req.Amount,
		"PartyA":            req.Phone,
		"PartyB":            c.cfg.ShortCode,
		"PhoneNumber":       req.Phone,
		"CallBackURL":       c.cfg.CallbackURL,
		"AccountReference":  req.AccountReference,
		"TransactionDesc":   req.Description,
	}

	var resp STKPushResponse
	if err := c.post(ctx, stkPath, payload, &resp); err != nil {
		return nil, fmt.Errorf("gateway: stk push: %w", err)
	}
	if resp.ResponseCode != "0" || resp.CheckoutRequestID == "" {
		return nil, fmt.Errorf("%w: stk push code %q: %s", ErrRejected, resp.ResponseCode, resp.ResponseDescription)
	}

	return &resp, nil
}

// Disburse запрашивает выплату B2C. Результат приходит асинхронно на B2CResultURL.
func (c *Client) Disburse(ctx context.Context, req DisburseRequest) (*DisburseResponse, error) {
	payload := map[string]any{
		"InitiatorName":      c.cfg.B2CInitiator,
		"SecurityCredential": c.cfg.B2CSecurityCredential,
		"CommandID":          "BusinessPayment",
		"Amount":             req.Amount,
		"PartyA":             c.cfg.ShortCode,
		"PartyB":             req.Phone,
		"Remarks":            req.Remarks,
		"QueueTimeOutURL":    c.cfg.B2CResultURL,
		"ResultURL":          c.cfg.B2CResultURL,
		"Occasion":           req.Occasion,
	}

	var resp DisburseResponse
	if err := c.post(ctx, b2cPath, payload, &resp); err != nil {
		return nil, fmt.Errorf("gateway: b2c: %w", err)
	}
	if resp.ResponseCode != "0" {
		return nil, fmt.Errorf("%w: b2c code %q: %s", ErrRejected, resp.ResponseCode, resp.ResponseDescription)
	}

	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	if c.cfg.BaseURL == "" {
		return fmt.Errorf("baseURL не задан")
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.invalidateToken()
	}
	if resp.StatusCode >= 400 {
		var errorBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errorBody)
		return fmt.Errorf("код ответа %d: %v", resp.StatusCode, errorBody)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// accessToken возвращает закэшированный токен или запрашивает новый.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("token: код ответа %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("token: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("token: пустой access_token")
	}

	ttl := time.Hour
	if seconds, err := strconv.Atoi(body.ExpiresIn); err == nil && seconds > 0 {
		ttl = time.Duration(seconds) * time.Second
	}
	if ttl > tokenSafetyMargin {
		ttl -= tokenSafetyMargin
	}

	c.token = body.AccessToken
	c.tokenExpiry = c.now().Add(ttl)
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}
