// Package attom is a thin client for the ATTOM AVM detail endpoint, which
// turns a street address into a property record with an automated valuation.
package attom

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/agenticpress/homevalue-gate/internal/metrics"
)

const (
	defaultDetailURL = "https://api.gateway.attomdata.com/propertyapi/v1.0.0/attomavm/detail"
	lookupTimeout    = 20 * time.Second
	maxBodyBytes     = 1 << 20
)

// ErrNoProperty is returned when the API answers but carries no property
// record for the address.
var ErrNoProperty = errors.New("attom: no property record in response")

// ClientConfig holds configuration for the ATTOM client.
type ClientConfig struct {
	APIKey    string
	DetailURL string // Override for testing
}

// Property is the subset of the AVM detail payload the service keeps.
type Property struct {
	AttomID          int64
	OneLineAddress   string
	Street           string
	City             string
	State            string
	Zip              string
	Latitude         string
	Longitude        string
	PropertyType     string
	YearBuilt        int
	LotSizeAcres     float64
	BuildingSizeSqft float64
	Bedrooms         float64
	Bathrooms        float64
	AVMValue         int64
	AVMHigh          int64
	AVMLow           int64
	AVMConfidence    int
	LastSaleDate     string
	LastSalePrice    int64
	AssessedTotal    int64
	MarketTotal      int64
	OwnerName        string
	RawJSON          []byte
}

// Client calls the ATTOM property API.
type Client struct {
	apiKey     string
	detailURL  string
	httpClient *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	detailURL := cfg.DetailURL
	if detailURL == "" {
		detailURL = defaultDetailURL
	}
	return &Client{
		apiKey:    cfg.APIKey,
		detailURL: detailURL,
		httpClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
	}
}

// Lookup fetches the AVM detail record for a two-line address
// (street, "city, state zip").
func (c *Client) Lookup(ctx context.Context, address1, address2 string) (*Property, error) {
	q := url.Values{"address1": {address1}, "address2": {address2}}

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.detailURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("attom: build request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			metrics.UpstreamErrors.WithLabelValues("attom", "timeout").Inc()
			return nil, fmt.Errorf("attom: lookup timed out: %w", err)
		}
		metrics.UpstreamErrors.WithLabelValues("attom", "network").Inc()
		return nil, fmt.Errorf("attom: lookup request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("attom", "network").Inc()
		return nil, fmt.Errorf("attom: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.UpstreamErrors.WithLabelValues("attom", "http").Inc()
		return nil, fmt.Errorf("attom: unexpected http %d", resp.StatusCode)
	}

	var payload detailResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.UpstreamErrors.WithLabelValues("attom", "decode").Inc()
		return nil, fmt.Errorf("attom: decode response: %w", err)
	}
	if len(payload.Property) == 0 {
		return nil, ErrNoProperty
	}

	p := payload.Property[0].flatten()
	p.RawJSON = body
	return p, nil
}

// detailResponse mirrors the nested AVM detail JSON.
type detailResponse struct {
	Property []detailProperty `json:"property"`
}

type detailProperty struct {
	Identifier struct {
		AttomID int64 `json:"attomId"`
	} `json:"identifier"`
	Address struct {
		OneLine     string `json:"oneLine"`
		Line1       string `json:"line1"`
		Locality    string `json:"locality"`
		CountrySubd string `json:"countrySubd"`
		Postal1     string `json:"postal1"`
	} `json:"address"`
	Location struct {
		Latitude  string `json:"latitude"`
		Longitude string `json:"longitude"`
	} `json:"location"`
	Summary struct {
		PropType  string `json:"proptype"`
		YearBuilt int    `json:"yearbuilt"`
	} `json:"summary"`
	Lot struct {
		LotSize1 float64 `json:"lotsize1"`
	} `json:"lot"`
	Building struct {
		Size struct {
			LivingSize float64 `json:"livingsize"`
		} `json:"size"`
		Rooms struct {
			Beds       float64 `json:"beds"`
			BathsTotal float64 `json:"bathstotal"`
		} `json:"rooms"`
	} `json:"building"`
	AVM struct {
		Amount struct {
			Value int64 `json:"value"`
			High  int64 `json:"high"`
			Low   int64 `json:"low"`
			Scr   int   `json:"scr"`
		} `json:"amount"`
	} `json:"avm"`
	Sale struct {
		SaleTransDate string `json:"saleTransDate"`
		Amount        struct {
			SaleAmt int64 `json:"saleamt"`
		} `json:"amount"`
	} `json:"sale"`
	Assessment struct {
		Assessed struct {
			AssdTtlValue int64 `json:"assdttlvalue"`
		} `json:"assessed"`
		Market struct {
			MktTtlValue int64 `json:"mktttlvalue"`
		} `json:"market"`
	} `json:"assessment"`
	Owner struct {
		Owner1 struct {
			FullName string `json:"fullname"`
		} `json:"owner1"`
	} `json:"owner"`
}

func (d detailProperty) flatten() *Property {
	return &Property{
		AttomID:          d.Identifier.AttomID,
		OneLineAddress:   d.Address.OneLine,
		Street:           d.Address.Line1,
		City:             d.Address.Locality,
		State:            d.Address.CountrySubd,
		Zip:              d.Address.Postal1,
		Latitude:         d.Location.Latitude,
		Longitude:        d.Location.Longitude,
		PropertyType:     d.Summary.PropType,
		YearBuilt:        d.Summary.YearBuilt,
		LotSizeAcres:     d.Lot.LotSize1,
		BuildingSizeSqft: d.Building.Size.LivingSize,
		Bedrooms:         d.Building.Rooms.Beds,
		Bathrooms:        d.Building.Rooms.BathsTotal,
		AVMValue:         d.AVM.Amount.Value,
		AVMHigh:          d.AVM.Amount.High,
		AVMLow:           d.AVM.Amount.Low,
		AVMConfidence:    d.AVM.Amount.Scr,
		LastSaleDate:     d.Sale.SaleTransDate,
		LastSalePrice:    d.Sale.Amount.SaleAmt,
		AssessedTotal:    d.Assessment.Assessed.AssdTtlValue,
		MarketTotal:      d.Assessment.Market.MktTtlValue,
		OwnerName:        d.Owner.Owner1.FullName,
	}
}
