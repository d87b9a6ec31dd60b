package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/crowdmap/crowdsync/internal/errs"
)

// DefaultGeocoderURL is the public OpenStreetMap search endpoint.
const DefaultGeocoderURL = "https://nominatim.openstreetmap.org/search"

// NominatimGeocoder resolves addresses with a Nominatim search endpoint.
type NominatimGeocoder struct {
	URL       string
	UserAgent string
	Client    *http.Client
	Logger    *slog.Logger
}

// NewNominatimGeocoder returns a geocoder for endpoint, DefaultGeocoderURL
// when empty.
func NewNominatimGeocoder(endpoint, userAgent string) *NominatimGeocoder {
	if endpoint == "" {
		endpoint = DefaultGeocoderURL
	}
	return &NominatimGeocoder{
		URL:       endpoint,
		UserAgent: userAgent,
		Client:    &http.Client{Timeout: defaultTimeout},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Geocode returns the coordinates of the best match for address.
func (g *NominatimGeocoder) Geocode(ctx context.Context, address string) (float64, float64, error) {
	params := url.Values{"q": {address}, "format": {"json"}, "limit": {"1"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.URL+"?"+params.Encode(), nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if g.UserAgent != "" {
		req.Header.Set("User-Agent", g.UserAgent)
	}

	body, err := send(g.Client, g.Logger, req)
	if err != nil {
		return 0, 0, err
	}

	match := gjson.GetBytes(body, "0")
	if !match.Exists() {
		return 0, 0, fmt.Errorf("address %q: %w", address, errs.ErrNotFound)
	}
	// Nominatim serves coordinates as strings.
	lat, err := strconv.ParseFloat(match.Get("lat").String(), 64)
	if err != nil {
		return 0, 0, errs.Invalid("lat", "%q is not a number", match.Get("lat").String())
	}
	lon, err := strconv.ParseFloat(match.Get("lon").String(), 64)
	if err != nil {
		return 0, 0, errs.Invalid("lon", "%q is not a number", match.Get("lon").String())
	}
	return lat, lon, nil
}
