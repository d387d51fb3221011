package postal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	domain "github.com/lionbidi/storefront/internal/domain"
)

const (
	defaultTimeout     = 3 * time.Second
	defaultFailures    = 5
	defaultOpenTimeout = 30 * time.Second
	maxResponseBytes   = 1 << 20
	statusSuccess      = "success"
	breakerName        = "postal-lookup"
)

var (
	// ErrNotFound means the directory has no post office for the postal code.
	ErrNotFound = errors.New("postal: postal code not found")
	// ErrUnavailable means the directory failed or the breaker is open.
	ErrUnavailable = errors.New("postal: directory unavailable")
)

// Config configures Client.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	Failures    int
	OpenTimeout time.Duration
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// Client resolves Indian PIN codes against a postalpincode.in style directory
// (GET {base}{pincode} returning [{"Status":..., "PostOffice":[{"District":..., "State":...}]}]).
// Consecutive failures open a circuit breaker so checkout falls back to default rates quickly.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[domain.Region]
	logger  *zap.Logger
}

// NewClient constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("postal: base url is required")
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Failures <= 0 {
		cfg.Failures = defaultFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultOpenTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	failures := uint32(cfg.Failures)
	breaker := gobreaker.NewCircuitBreaker[domain.Region](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// An unknown PIN is a valid answer and must not trip the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{baseURL: base, http: httpClient, breaker: breaker, logger: logger}, nil
}

// Lookup returns the city (district) and state for postalCode.
func (c *Client) Lookup(ctx context.Context, postalCode string) (domain.Region, error) {
	region, err := c.breaker.Execute(func() (domain.Region, error) {
		return c.fetch(ctx, postalCode)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.Region{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return region, err
}

// State reports the breaker state for readiness output.
func (c *Client) State() string {
	return c.breaker.State().String()
}

type directoryResult struct {
	Status     string `json:"Status"`
	PostOffice []struct {
		District string `json:"District"`
		State    string `json:"State"`
	} `json:"PostOffice"`
}

func (c *Client) fetch(ctx context.Context, postalCode string) (domain.Region, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+postalCode, nil)
	if err != nil {
		return domain.Region{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Region{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Region{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var results []directoryResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&results); err != nil {
		return domain.Region{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if len(results) == 0 || !strings.EqualFold(results[0].Status, statusSuccess) || len(results[0].PostOffice) == 0 {
		return domain.Region{}, ErrNotFound
	}
	office := results[0].PostOffice[0]
	return domain.Region{
		PostalCode: postalCode,
		City:       strings.TrimSpace(office.District),
		State:      strings.TrimSpace(office.State),
	}, nil
}
