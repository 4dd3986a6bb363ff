package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"backend_dooh/config"
	"backend_dooh/models"

	"github.com/rs/zerolog"
)

// FetchError ошибка получения данных города из одного источника
type FetchError struct {
	Source  string `json:"source"`
	City    string `json:"city"`
	Timeout bool   `json:"timeout"`
	Err     error  `json:"-"`
}

func (e *FetchError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: fetch %s timed out: %v", e.Source, e.City, e.Err)
	}
	return fmt.Sprintf("%s: fetch %s failed: %v", e.Source, e.City, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// MarshalJSON добавляет текст причины
func (e *FetchError) MarshalJSON() ([]byte, error) {
	type alias FetchError
	return json.Marshal(struct {
		*alias
		Cause string `json:"cause"`
	}{alias: (*alias)(e), Cause: fmt.Sprint(e.Err)})
}

// CityDataSource источник демографических данных города
type CityDataSource interface {
	Name() string
	Fetch(ctx context.Context, city string) (*models.CitySnapshot, error)
}

// RetryConfig конфигурация для retry механизма
type RetryConfig struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableErrors []int // HTTP статус коды для повтора
}

// DefaultRetryConfig возвращает стандартную конфигурацию retry
func DefaultRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:    maxRetries,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		RetryableErrors: []int{
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
			http.StatusTooManyRequests,
		},
	}
}

// HTTPCitySource источник, отдающий срез города по GET <base>/cities/<name>
type HTTPCitySource struct {
	SourceName string
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Retry      RetryConfig
	log        zerolog.Logger
}

// NewHTTPCitySource создает HTTP источник с таймаутом на весь запрос, включая повторы
func NewHTTPCitySource(name, baseURL string, timeout time.Duration, retry RetryConfig, log zerolog.Logger) *HTTPCitySource {
	return &HTTPCitySource{
		SourceName: name,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Timeout: timeout,
		Retry:   retry,
		log:     log.With().Str("source", name).Logger(),
	}
}

// NewCitySources создает источники из конфигурации; источники без URL не создаются
func NewCitySources(cfg config.CitySourcesConfig, log zerolog.Logger) map[string]CityDataSource {
	sources := make(map[string]CityDataSource)
	retry := DefaultRetryConfig(cfg.MaxRetries)
	add := func(name, baseURL string) {
		if strings.TrimSpace(baseURL) == "" {
			return
		}
		sources[name] = NewHTTPCitySource(name, baseURL, cfg.Timeout, retry, log)
	}
	add(models.SourcePublic, cfg.PublicURL)
	add(models.SourceINS, cfg.INSURL)
	add(models.SourceBRAT, cfg.BRATURL)
	return sources
}

func (s *HTTPCitySource) Name() string {
	return s.SourceName
}

// Fetch запрашивает срез города; любая ошибка возвращается как *FetchError
func (s *HTTPCitySource) Fetch(ctx context.Context, city string) (*models.CitySnapshot, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	fail := func(err error) error {
		return &FetchError{Source: s.SourceName, City: city, Timeout: isTimeout(err), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/cities/"+url.PathEscape(city), nil)
	if err != nil {
		return nil, fail(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "DOOH-Backend/1.0")

	resp, err := s.callWithRetry(req)
	if err != nil {
		return nil, fail(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fail(fmt.Errorf("%w: city %s is unknown to the source", ErrNotFound, city))
	case resp.StatusCode != http.StatusOK:
		return nil, fail(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fail(err)
	}
	var snapshot models.CitySnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return nil, fail(fmt.Errorf("decode response: %w", err))
	}
	if err := snapshot.Validate(); err != nil {
		return nil, fail(fmt.Errorf("invalid snapshot: %w", err))
	}
	snapshot.Source = s.SourceName
	if snapshot.LastUpdated == "" {
		snapshot.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	}
	return &snapshot, nil
}

// callWithRetry выполняет запрос с повторами и экспоненциальным backoff
func (s *HTTPCitySource) callWithRetry(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= s.Retry.MaxRetries; attempt++ {
		resp, err := s.HTTPClient.Do(req.Clone(req.Context()))
		if err == nil && !shouldRetry(resp.StatusCode, s.Retry.RetryableErrors) {
			return resp, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			resp.Body.Close()
		}

		if attempt == s.Retry.MaxRetries || req.Context().Err() != nil {
			break
		}

		delay := calculateDelay(attempt, s.Retry)
		s.log.Debug().
			Str("url", req.URL.String()).
			Dur("delay", delay).
			Int("attempt", attempt+1).
			Err(lastErr).
			Msg("retrying city source request")

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("all attempts failed: %w", lastErr)
}

func shouldRetry(statusCode int, retryable []int) bool {
	for _, code := range retryable {
		if statusCode == code {
			return true
		}
	}
	return false
}

func calculateDelay(attempt int, cfg RetryConfig) time.Duration {
	delay := time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt)))
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
