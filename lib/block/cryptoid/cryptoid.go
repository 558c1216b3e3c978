// Package cryptoid implements the block.Source interface for the chainz CryptoID block explorer API.
package cryptoid

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/tarancss/stakewatch/lib/block"
)

// URLDefault is the Divi endpoint of the API.
const URLDefault = "https://chainz.cryptoid.info/divi/api.dws"

// CryptoID implements a client to the API.
type CryptoID struct {
	c   *resty.Client
	url string
	key string
	lim *rate.Limiter
}

// New returns a client for the API at url authenticated with key. rps limits the requests per second; 0 or less means
// no limit.
func New(url, key string, rps float64) *CryptoID {
	if url == "" {
		url = URLDefault
	}

	lim := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), 1)
	}

	return &CryptoID{
		c:   resty.New().SetHeader("Accept", "text/plain"),
		url: url,
		key: key,
		lim: lim,
	}
}

// Name returns the name of the source.
func (c *CryptoID) Name() string { return "cryptoid" }

// Balance returns the balance of addr.
func (c *CryptoID) Balance(ctx context.Context, addr string) (decimal.Decimal, error) {
	body, err := c.get(ctx, map[string]string{"q": "getbalance", "a": addr})
	if err != nil {
		return decimal.Zero, err
	}

	return parseDecimal(body)
}

// Price returns the USD price.
func (c *CryptoID) Price(ctx context.Context) (decimal.Decimal, error) {
	body, err := c.get(ctx, map[string]string{"q": "ticker.usd"})
	if err != nil {
		return decimal.Zero, err
	}

	return parseDecimal(body)
}

// Rank returns the rich list rank of addr as sent by the API.
func (c *CryptoID) Rank(ctx context.Context, addr string) (string, error) {
	body, err := c.get(ctx, map[string]string{"q": "richrank", "a": addr})
	if err != nil {
		return "", err
	}

	if body == "" {
		return "", fmt.Errorf("%w: empty rank", block.ErrBadPayload)
	}

	return body, nil
}

func (c *CryptoID) get(ctx context.Context, params map[string]string) (string, error) {
	if err := c.lim.Wait(ctx); err != nil {
		return "", err
	}

	if c.key != "" {
		params["key"] = c.key
	}

	resp, err := c.c.R().SetContext(ctx).SetQueryParams(params).Get(c.url)
	if err != nil {
		return "", err
	}

	if !resp.IsSuccess() {
		return "", fmt.Errorf("%w: %s", block.ErrStatus, resp.Status())
	}

	return strings.TrimSpace(resp.String()), nil
}

func parseDecimal(body string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", block.ErrBadPayload, body)
	}

	return d, nil
}
