// Package bceao integrates with the regional central bank's published
// rates feed. The marginal lending rate it returns, plus the bank
// margin, is the reference rate quoted to loan applicants.
package bceao

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/atlasbank/ledger-service/internal/config"
	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Client handles integration with the BCEAO rates feed
type Client struct {
	url    string
	margin decimal.Decimal
	client *http.Client
	log    *logrus.Logger
}

// NewClient initializes a new BCEAO client
func NewClient(cfg *config.Config, log *logrus.Logger) *Client {
	return &Client{
		url:    cfg.BCEAOURL,
		margin: cfg.LendingMargin,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

// fetch retrieves the raw XML rates document
func (c *Client) fetch() ([]byte, error) {
	req, err := http.NewRequest("GET", c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Accept", "application/xml")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %v", err)
	}

	c.log.Debugf("BCEAO XML response: %s", string(body))
	return body, nil
}

// ParseRates extracts the marginal lending rate from the XML document.
// The feed lists one entry per rate kind, newest first.
func ParseRates(rawBody []byte) (decimal.Decimal, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(rawBody); err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse XML: %v", err)
	}

	entries := doc.FindElements("//rates/rate[@kind='marginal_lending']")
	if len(entries) == 0 {
		return decimal.Zero, fmt.Errorf("no marginal lending rate found in XML")
	}

	valueElement := entries[0].FindElement("./value")
	if valueElement == nil {
		return decimal.Zero, fmt.Errorf("value element not found in XML")
	}

	rate, err := decimal.NewFromString(valueElement.Text())
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse rate: %v", err)
	}
	return rate, nil
}

// GetLendingRate retrieves the current marginal lending rate and adds
// the bank margin
func (c *Client) GetLendingRate() (decimal.Decimal, error) {
	body, err := c.fetch()
	if err != nil {
		return decimal.Zero, err
	}

	rate, err := ParseRates(body)
	if err != nil {
		return decimal.Zero, err
	}

	rate = rate.Add(c.margin)
	c.log.Infof("Retrieved lending rate: %s%% (including %s%% bank margin)", rate, c.margin)
	return rate, nil
}
