// Package itad is the IsThereAnyDeal API adapter. Every failure a caller can
// recover from, timeouts, upstream misses, rate limits, surfaces as
// ErrUnavailable; the scheduler treats it as "retry on the next cron tick".
package itad

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"gamewatch/internal/models"
)

const defaultBaseURL = "https://api.isthereanydeal.com"

// ErrUnavailable signals that price data could not be obtained right now.
var ErrUnavailable = errors.New("price data unavailable")

type Client struct {
	apiKey string
	client *resty.Client
}

func NewClient(apiKey string) *Client {
	client := resty.New()
	client.SetBaseURL(defaultBaseURL)
	client.SetTimeout(30 * time.Second)

	return &Client{
		apiKey: apiKey,
		client: client,
	}
}

// SetTimeout bounds every provider call; a hang becomes ErrUnavailable.
func (c *Client) SetTimeout(d time.Duration) {
	c.client.SetTimeout(d)
}

// SetBaseURL points the client at a different endpoint. Used in tests.
func (c *Client) SetBaseURL(u string) {
	c.client.SetBaseURL(u)
}

type amount struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type dealEntry struct {
	Shop struct {
		Name string `json:"name"`
	} `json:"shop"`
	Price     amount `json:"price"`
	Regular   amount `json:"regular"`
	Platforms []struct {
		Name string `json:"name"`
	} `json:"platforms"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

type priceEntry struct {
	ID         string      `json:"id"`
	Deals      []dealEntry `json:"deals"`
	HistoryLow struct {
		All *amount `json:"all"`
	} `json:"historyLow"`
}

// Deal is one store offer for a game.
type Deal struct {
	StoreName     string    `json:"store_name"`
	Currency      string    `json:"currency"`
	CurrentPrice  float64   `json:"current_price"`
	OriginalPrice float64   `json:"original_price"`
	URL           string    `json:"url"`
	Timestamp     time.Time `json:"timestamp"`
}

// LookupGameID resolves a game title to the provider's game id.
func (c *Client) LookupGameID(ctx context.Context, gameName string) (string, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("key", c.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody([]string{gameName}).
		Post("/lookup/id/title/v1")
	if err != nil {
		return "", fmt.Errorf("%w: id lookup for %q: %v", ErrUnavailable, gameName, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("%w: id lookup for %q returned status %d", ErrUnavailable, gameName, resp.StatusCode())
	}

	var ids map[string]*string
	if err := json.Unmarshal(resp.Body(), &ids); err != nil {
		return "", fmt.Errorf("%w: id lookup for %q: %v", ErrUnavailable, gameName, err)
	}
	id, ok := ids[gameName]
	if !ok || id == nil || *id == "" {
		return "", fmt.Errorf("%w: game %q not found upstream", ErrUnavailable, gameName)
	}
	return *id, nil
}

// prices fetches the full price entry for a game id in a country.
func (c *Client) prices(ctx context.Context, gameID, country string) (*priceEntry, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":     c.apiKey,
			"country": country,
		}).
		SetHeader("Content-Type", "application/json").
		SetBody([]string{gameID}).
		Post("/games/prices/v3")
	if err != nil {
		return nil, fmt.Errorf("%w: prices for %q: %v", ErrUnavailable, gameID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: prices for %q returned status %d", ErrUnavailable, gameID, resp.StatusCode())
	}

	var entries []priceEntry
	if err := json.Unmarshal(resp.Body(), &entries); err != nil {
		return nil, fmt.Errorf("%w: prices for %q: %v", ErrUnavailable, gameID, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no price data for %q in %q", ErrUnavailable, gameID, country)
	}
	return &entries[0], nil
}

// platformDeals filters an entry's deals down to those offered on platform.
func platformDeals(entry *priceEntry, platform string) []dealEntry {
	var deals []dealEntry
	for _, deal := range entry.Deals {
		for _, p := range deal.Platforms {
			if p.Name == platform {
				deals = append(deals, deal)
				break
			}
		}
	}
	return deals
}

// listPrice derives the list price as the most common "regular" amount
// across the deals, which smooths out stores that misreport it.
func listPrice(deals []dealEntry) float64 {
	counts := make(map[float64]int)
	for _, deal := range deals {
		counts[deal.Regular.Amount]++
	}
	var best float64
	bestCount := 0
	for price, n := range counts {
		if n > bestCount || (n == bestCount && price > best) {
			best = price
			bestCount = n
		}
	}
	return best
}

// Fetch returns a normalized price snapshot for the game reference: the
// cheapest current offer on the platform, the derived list price and the
// resulting discount percentage.
func (c *Client) Fetch(ctx context.Context, ref models.GameRef) (*models.PriceSnapshot, error) {
	gameID, err := c.LookupGameID(ctx, ref.GameName)
	if err != nil {
		return nil, err
	}
	entry, err := c.prices(ctx, gameID, ref.Region)
	if err != nil {
		return nil, err
	}

	deals := platformDeals(entry, ref.Platform)
	if len(deals) == 0 {
		return nil, fmt.Errorf("%w: no deals for %q on %s in %s", ErrUnavailable, ref.GameName, ref.Platform, ref.Region)
	}

	best := deals[0]
	for _, deal := range deals[1:] {
		if deal.Price.Amount < best.Price.Amount {
			best = deal
		}
	}

	list := listPrice(deals)
	if list < best.Price.Amount {
		list = best.Price.Amount
	}
	var discount float64
	if list > 0 {
		discount = (list - best.Price.Amount) / list * 100
	}

	return &models.PriceSnapshot{
		GameName:        ref.GameName,
		Region:          ref.Region,
		Platform:        ref.Platform,
		ObservedAt:      time.Now(),
		CurrentPrice:    best.Price.Amount,
		ListPrice:       list,
		DiscountPercent: discount,
		Currency:        best.Price.Currency,
		StoreName:       best.Shop.Name,
		StoreURL:        best.URL,
	}, nil
}

// BestDeals returns every store offer tied at the minimum current price for
// the platform.
func (c *Client) BestDeals(ctx context.Context, ref models.GameRef) ([]Deal, error) {
	gameID, err := c.LookupGameID(ctx, ref.GameName)
	if err != nil {
		return nil, err
	}
	entry, err := c.prices(ctx, gameID, ref.Region)
	if err != nil {
		return nil, err
	}

	deals := platformDeals(entry, ref.Platform)
	if len(deals) == 0 {
		return nil, fmt.Errorf("%w: no deals for %q on %s in %s", ErrUnavailable, ref.GameName, ref.Platform, ref.Region)
	}

	minPrice := deals[0].Price.Amount
	for _, deal := range deals[1:] {
		if deal.Price.Amount < minPrice {
			minPrice = deal.Price.Amount
		}
	}

	var result []Deal
	for _, deal := range deals {
		if deal.Price.Amount == minPrice {
			result = append(result, Deal{
				StoreName:     deal.Shop.Name,
				Currency:      deal.Price.Currency,
				CurrentPrice:  deal.Price.Amount,
				OriginalPrice: deal.Regular.Amount,
				URL:           deal.URL,
				Timestamp:     deal.Timestamp,
			})
		}
	}
	return result, nil
}

// HistoryLow returns the provider-side all-time low price for a game in a
// country, across all platforms.
func (c *Client) HistoryLow(ctx context.Context, gameName, country string) (float64, string, error) {
	gameID, err := c.LookupGameID(ctx, gameName)
	if err != nil {
		return 0, "", err
	}
	entry, err := c.prices(ctx, gameID, country)
	if err != nil {
		return 0, "", err
	}
	if entry.HistoryLow.All == nil {
		return 0, "", fmt.Errorf("%w: no all-time low recorded for %q in %q", ErrUnavailable, gameName, country)
	}
	return entry.HistoryLow.All.Amount, entry.HistoryLow.All.Currency, nil
}
