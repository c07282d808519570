package weather

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	openWeatherURL = "https://api.openweathermap.org/data/2.5/weather"
	openMeteoURL   = "https://api.open-meteo.com/v1/forecast"
)

// Option configures an HTTP weather client.
type Option func(*client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithBaseURL overrides the provider endpoint.
func WithBaseURL(u string) Option {
	return func(c *client) {
		c.baseURL = u
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
}

func newClient(baseURL string, timeout time.Duration, opts []Option) *client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(10, 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// getJSON performs a rate-limited GET and decodes a 200 response into dst.
func (c *client) getJSON(ctx context.Context, provider string, params url.Values, dst any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrapf(err, "%s: rate limit", provider)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return eris.Wrapf(err, "%s: build request", provider)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return eris.Wrapf(err, "%s: request", provider)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return eris.Wrapf(err, "%s: read body", provider)
	}
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("%s: returned status %d", provider, resp.StatusCode)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return eris.Wrapf(err, "%s: parse response", provider)
	}
	return nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// OpenWeather reads current conditions from the OpenWeatherMap API.
type OpenWeather struct {
	*client
}

// NewOpenWeather creates an OpenWeatherMap client. timeout bounds each call.
func NewOpenWeather(apiKey string, timeout time.Duration, opts ...Option) *OpenWeather {
	c := newClient(openWeatherURL, timeout, opts)
	c.apiKey = apiKey
	return &OpenWeather{client: c}
}

type openWeatherResponse struct {
	Main *struct {
		Temp     *float64 `json:"temp"`
		Humidity *float64 `json:"humidity"`
	} `json:"main"`
}

func (o *OpenWeather) Current(ctx context.Context, lat, lon float64) (*Observation, error) {
	if o.apiKey == "" {
		return nil, eris.New("openweather: api key not configured")
	}

	params := url.Values{
		"lat":   {formatCoord(lat)},
		"lon":   {formatCoord(lon)},
		"appid": {o.apiKey},
		"units": {"metric"},
	}

	var resp openWeatherResponse
	if err := o.getJSON(ctx, "openweather", params, &resp); err != nil {
		return nil, err
	}
	if resp.Main == nil || resp.Main.Temp == nil || resp.Main.Humidity == nil {
		return nil, ErrNoData
	}

	return &Observation{
		TemperatureC: *resp.Main.Temp,
		HumidityPct:  *resp.Main.Humidity,
		Source:       "openweather",
	}, nil
}

// OpenMeteo reads current conditions from the keyless Open-Meteo forecast API.
type OpenMeteo struct {
	*client
}

func NewOpenMeteo(timeout time.Duration, opts ...Option) *OpenMeteo {
	return &OpenMeteo{client: newClient(openMeteoURL, timeout, opts)}
}

type openMeteoResponse struct {
	Current *struct {
		Temperature *float64 `json:"temperature_2m"`
		Humidity    *float64 `json:"relative_humidity_2m"`
	} `json:"current"`
}

func (o *OpenMeteo) Current(ctx context.Context, lat, lon float64) (*Observation, error) {
	params := url.Values{
		"latitude":  {formatCoord(lat)},
		"longitude": {formatCoord(lon)},
		"current":   {"temperature_2m,relative_humidity_2m"},
	}

	var resp openMeteoResponse
	if err := o.getJSON(ctx, "openmeteo", params, &resp); err != nil {
		return nil, err
	}
	if resp.Current == nil || resp.Current.Temperature == nil || resp.Current.Humidity == nil {
		return nil, ErrNoData
	}

	return &Observation{
		TemperatureC: *resp.Current.Temperature,
		HumidityPct:  *resp.Current.Humidity,
		Source:       "openmeteo",
	}, nil
}
