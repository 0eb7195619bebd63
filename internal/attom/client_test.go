package attom

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const detailFixture = `{
  "property": [{
    "identifier": {"attomId": 184713191},
    "address": {
      "oneLine": "4529 WINONA CT, DENVER, CO 80212",
      "line1": "4529 WINONA CT",
      "locality": "DENVER",
      "countrySubd": "CO",
      "postal1": "80212"
    },
    "location": {"latitude": "39.776957", "longitude": "-105.048422"},
    "summary": {"proptype": "SFR", "yearbuilt": 1900},
    "lot": {"lotsize1": 0.1074},
    "building": {
      "size": {"livingsize": 1144},
      "rooms": {"beds": 2, "bathstotal": 1}
    },
    "avm": {"amount": {"value": 612000, "high": 672000, "low": 551000, "scr": 90}},
    "sale": {"saleTransDate": "2021-06-15", "amount": {"saleamt": 485000}},
    "assessment": {
      "assessed": {"assdttlvalue": 39440},
      "market": {"mktttlvalue": 551500}
    },
    "owner": {"owner1": {"fullname": "SMITH JOHN"}}
  }]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{APIKey: "test-key", DetailURL: srv.URL})
}

func TestLookup_Success(t *testing.T) {
	var gotKey, gotAddr1, gotAddr2 string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("apikey")
		gotAddr1 = r.URL.Query().Get("address1")
		gotAddr2 = r.URL.Query().Get("address2")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(detailFixture))
	})

	p, err := c.Lookup(context.Background(), "4529 Winona Ct", "Denver, CO 80212")
	require.NoError(t, err)

	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "4529 Winona Ct", gotAddr1)
	assert.Equal(t, "Denver, CO 80212", gotAddr2)

	assert.Equal(t, int64(184713191), p.AttomID)
	assert.Equal(t, "4529 WINONA CT, DENVER, CO 80212", p.OneLineAddress)
	assert.Equal(t, "DENVER", p.City)
	assert.Equal(t, "CO", p.State)
	assert.Equal(t, "80212", p.Zip)
	assert.Equal(t, "SFR", p.PropertyType)
	assert.Equal(t, 1900, p.YearBuilt)
	assert.Equal(t, 0.1074, p.LotSizeAcres)
	assert.Equal(t, 1144.0, p.BuildingSizeSqft)
	assert.Equal(t, 2.0, p.Bedrooms)
	assert.Equal(t, 1.0, p.Bathrooms)
	assert.Equal(t, int64(612000), p.AVMValue)
	assert.Equal(t, int64(672000), p.AVMHigh)
	assert.Equal(t, int64(551000), p.AVMLow)
	assert.Equal(t, 90, p.AVMConfidence)
	assert.Equal(t, "2021-06-15", p.LastSaleDate)
	assert.Equal(t, int64(485000), p.LastSalePrice)
	assert.Equal(t, int64(39440), p.AssessedTotal)
	assert.Equal(t, int64(551500), p.MarketTotal)
	assert.Equal(t, "SMITH JOHN", p.OwnerName)
	assert.JSONEq(t, detailFixture, string(p.RawJSON))
}

func TestLookup_NoProperty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"property": []}`))
	})

	_, err := c.Lookup(context.Background(), "1 Nowhere St", "Nowhere, ZZ 00000")
	assert.ErrorIs(t, err, ErrNoProperty)
}

func TestLookup_HTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})

	_, err := c.Lookup(context.Background(), "a", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected http 401")
	assert.NotErrorIs(t, err, ErrNoProperty)
}

func TestLookup_MalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"property": [`))
	})

	_, err := c.Lookup(context.Background(), "a", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestLookup_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(ClientConfig{APIKey: "k", DetailURL: srv.URL})

	_, err := c.Lookup(context.Background(), "a", "b")
	require.Error(t, err)
}
