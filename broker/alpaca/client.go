// Package alpaca is a minimal REST client for Alpaca's trading and market
// data APIs, used as the live execution venue and historical bar source.
package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"smabot/broker"
	"smabot/market"
)

const (
	// PaperURL is the paper-trading environment.
	PaperURL = "https://paper-api.alpaca.markets"
	// LiveURL is the real-money environment.
	LiveURL = "https://api.alpaca.markets"
	// DataURL serves historical and latest bars for both environments.
	DataURL = "https://data.alpaca.markets"
)

// Client talks to one Alpaca environment.
type Client struct {
	baseURL    string
	dataURL    string
	key        string
	secret     string
	httpClient *http.Client
}

// NewClient creates a client for the paper or live environment.
func NewClient(key, secret string, paper bool) *Client {
	baseURL := LiveURL
	if paper {
		baseURL = PaperURL
	}
	return &Client{
		baseURL: baseURL,
		dataURL: DataURL,
		key:     key,
		secret:  secret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithBaseURL overrides both API endpoints; used in tests against httptest
// servers.
func (c *Client) WithBaseURL(api, data string) *Client {
	c.baseURL = api
	c.dataURL = data
	return c
}

func (c *Client) do(ctx context.Context, method, rawurl string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, rawurl, body)
	if err != nil {
		return err
	}
	req.Header.Set("APCA-API-KEY-ID", c.key)
	req.Header.Set("APCA-API-SECRET-KEY", c.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alpaca: %s %s: status %d: %s", method, rawurl, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

type apiAccount struct {
	ID          string `json:"id"`
	Cash        string `json:"cash"`
	Equity      string `json:"equity"`
	BuyingPower string `json:"buying_power"`
}

// GetAccount returns the venue's account mirror.
func (c *Client) GetAccount(ctx context.Context) (broker.AccountInfo, error) {
	var a apiAccount
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/v2/account", nil, &a); err != nil {
		return broker.AccountInfo{}, err
	}

	cash, err := strconv.ParseFloat(a.Cash, 64)
	if err != nil {
		return broker.AccountInfo{}, fmt.Errorf("alpaca: bad cash %q: %w", a.Cash, err)
	}
	equity, err := strconv.ParseFloat(a.Equity, 64)
	if err != nil {
		return broker.AccountInfo{}, fmt.Errorf("alpaca: bad equity %q: %w", a.Equity, err)
	}
	bp, err := strconv.ParseFloat(a.BuyingPower, 64)
	if err != nil {
		return broker.AccountInfo{}, fmt.Errorf("alpaca: bad buying_power %q: %w", a.BuyingPower, err)
	}

	return broker.AccountInfo{ID: a.ID, Cash: cash, Equity: equity, BuyingPower: bp}, nil
}

type apiPosition struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
}

// GetPositions returns the venue's open positions.
func (c *Client) GetPositions(ctx context.Context) ([]broker.PositionInfo, error) {
	var raw []apiPosition
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/v2/positions", nil, &raw); err != nil {
		return nil, err
	}

	out := make([]broker.PositionInfo, 0, len(raw))
	for _, p := range raw {
		qty, err := strconv.ParseFloat(p.Qty, 64)
		if err != nil {
			return nil, fmt.Errorf("alpaca: bad qty %q for %s: %w", p.Qty, p.Symbol, err)
		}
		avg, err := strconv.ParseFloat(p.AvgEntryPrice, 64)
		if err != nil {
			return nil, fmt.Errorf("alpaca: bad avg_entry_price %q for %s: %w", p.AvgEntryPrice, p.Symbol, err)
		}
		out = append(out, broker.PositionInfo{Symbol: p.Symbol, Quantity: qty, AvgPrice: avg})
	}
	return out, nil
}

type orderRequest struct {
	Symbol      string `json:"symbol"`
	Qty         string `json:"qty"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
	ClientID    string `json:"client_order_id,omitempty"`
}

type orderResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	FilledQty      string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
	FilledAt       string `json:"filled_at"`
}

// SubmitOrder places an immediate-or-cancel market order. Anything short of
// a complete fill is reported as an OrderError so the caller books no
// position change; a partial live fill leaves the venue and the ledger
// intentionally divergent until reconciled by hand.
func (c *Client) SubmitOrder(ctx context.Context, o broker.Order) (broker.Fill, error) {
	side := "buy"
	if o.Side == broker.Sell {
		side = "sell"
	}

	payload, err := json.Marshal(orderRequest{
		Symbol:      o.Symbol,
		Qty:         strconv.FormatFloat(o.Quantity, 'f', -1, 64),
		Side:        side,
		Type:        "market",
		TimeInForce: "ioc",
		ClientID:    o.ID,
	})
	if err != nil {
		return broker.Fill{}, err
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/v2/orders", bytes.NewReader(payload), &resp); err != nil {
		return broker.Fill{}, &broker.OrderError{OrderID: o.ID, Symbol: o.Symbol, Detail: err.Error()}
	}

	if resp.Status != "filled" {
		return broker.Fill{}, &broker.OrderError{
			OrderID: o.ID, Symbol: o.Symbol,
			Detail: fmt.Sprintf("not fully filled: status=%s filled_qty=%s", resp.Status, resp.FilledQty),
		}
	}

	filledQty, err := strconv.ParseFloat(resp.FilledQty, 64)
	if err != nil {
		return broker.Fill{}, &broker.OrderError{OrderID: o.ID, Symbol: o.Symbol, Detail: "bad filled_qty: " + resp.FilledQty}
	}
	if filledQty != o.Quantity {
		return broker.Fill{}, &broker.OrderError{
			OrderID: o.ID, Symbol: o.Symbol,
			Detail: fmt.Sprintf("partial fill: %v of %v", filledQty, o.Quantity),
		}
	}

	price, err := strconv.ParseFloat(resp.FilledAvgPrice, 64)
	if err != nil {
		return broker.Fill{}, &broker.OrderError{OrderID: o.ID, Symbol: o.Symbol, Detail: "bad filled_avg_price: " + resp.FilledAvgPrice}
	}

	filledAt := o.Time
	if t, err := time.Parse(time.RFC3339, resp.FilledAt); err == nil {
		filledAt = t
	}

	return broker.Fill{
		OrderID:    o.ID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Quantity:   filledQty,
		Price:      price,
		StopLoss:   o.StopLoss,
		TakeProfit: o.TakeProfit,
		Time:       filledAt,
		Reason:     o.Reason,
	}, nil
}

type apiBar struct {
	Time   string  `json:"t"`
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
}

func (b apiBar) toBar(symbol string) (market.Bar, error) {
	ts, err := time.Parse(time.RFC3339, b.Time)
	if err != nil {
		return market.Bar{}, fmt.Errorf("alpaca: bad bar time %q: %w", b.Time, err)
	}
	return market.Bar{
		Symbol: symbol,
		Time:   ts,
		Open:   b.Open,
		High:   b.High,
		Low:    b.Low,
		Close:  b.Close,
		Volume: b.Volume,
	}, nil
}

type barsResponse struct {
	Bars          []apiBar `json:"bars"`
	NextPageToken string   `json:"next_page_token"`
}

// BarsRequest selects a historical bar range for one symbol.
type BarsRequest struct {
	Symbol    string
	Timeframe string // e.g. "1Min", "1Day"; default 1Day
	Start     time.Time
	End       time.Time
	Limit     int
}

// GetBars fetches historical bars, following pagination.
func (c *Client) GetBars(ctx context.Context, req BarsRequest) ([]market.Bar, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("alpaca: symbol is required")
	}
	if req.Timeframe == "" {
		req.Timeframe = "1Day"
	}

	params := url.Values{}
	params.Set("timeframe", req.Timeframe)
	if !req.Start.IsZero() {
		params.Set("start", req.Start.Format(time.RFC3339))
	}
	if !req.End.IsZero() {
		params.Set("end", req.End.Format(time.RFC3339))
	}
	if req.Limit > 0 {
		params.Set("limit", strconv.Itoa(req.Limit))
	}

	var bars []market.Bar
	for {
		u := fmt.Sprintf("%s/v2/stocks/%s/bars?%s", c.dataURL, url.PathEscape(req.Symbol), params.Encode())

		var resp barsResponse
		if err := c.do(ctx, http.MethodGet, u, nil, &resp); err != nil {
			return nil, err
		}
		for _, ab := range resp.Bars {
			b, err := ab.toBar(req.Symbol)
			if err != nil {
				return nil, err
			}
			bars = append(bars, b)
		}
		if resp.NextPageToken == "" {
			return bars, nil
		}
		params.Set("page_token", resp.NextPageToken)
	}
}

type latestBarResponse struct {
	Bar apiBar `json:"bar"`
}

// GetLatestBar fetches the most recent bar for a symbol; live mode polls it.
func (c *Client) GetLatestBar(ctx context.Context, symbol string) (market.Bar, error) {
	u := fmt.Sprintf("%s/v2/stocks/%s/bars/latest", c.dataURL, url.PathEscape(symbol))

	var resp latestBarResponse
	if err := c.do(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return market.Bar{}, err
	}
	return resp.Bar.toBar(symbol)
}
