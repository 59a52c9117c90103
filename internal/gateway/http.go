package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodPost, "/v1/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *HTTPClient) GetOrder(ctx context.Context, id string) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodGet, "/v1/orders/"+id, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *HTTPClient) SubmitOrder(ctx context.Context, id string, expectedTotal decimal.Decimal) (*Order, error) {
	body := map[string]any{"expectedTotal": expectedTotal}
	var order Order
	if err := c.do(ctx, http.MethodPost, "/v1/orders/"+id+"/submit", body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *HTTPClient) ReopenOrder(ctx context.Context, id string) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodPost, "/v1/orders/"+id+"/reopen", nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *HTTPClient) CancelOrder(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/orders/"+id+"/cancel", nil, nil)
}

func (c *HTTPClient) UpdateOrderItems(ctx context.Context, id string, items []LineItem) (*Order, error) {
	body := map[string]any{"items": items}
	var order Order
	if err := c.do(ctx, http.MethodPost, "/v1/orders/"+id+"/items", body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *HTTPClient) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := c.do(ctx, http.MethodGet, "/v1/payment_intents/"+id, nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *HTTPClient) ConfirmPaymentIntent(ctx context.Context, id, paymentMethodID string, autoCapture bool) (*PaymentIntent, error) {
	captureMethod := "manual"
	if autoCapture {
		captureMethod = "automatic"
	}
	body := map[string]any{
		"paymentMethod": paymentMethodID,
		"captureMethod": captureMethod,
	}
	var intent PaymentIntent
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents/"+id+"/confirm", body, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *HTTPClient) CapturePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents/"+id+"/capture", nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(data))
		if msg != "" {
			return fmt.Errorf("gateway http status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("gateway http status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
