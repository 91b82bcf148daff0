package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"market-feed/src/helpers"
	"market-feed/src/logger"
	"market-feed/src/models"
)

// HTTPNetworkManager performs rate-limited GET requests with retries for
// polling sources.
type HTTPNetworkManager struct {
	Config    models.MNetworkConfig
	Client    *http.Client
	Logger    *logger.Logger
	BaseDelay time.Duration
	sem       chan struct{}
}

// -----------------------------------------------------------------------------

func NewHTTPNetworkManager(cfg models.MNetworkConfig, log *logger.Logger) *HTTPNetworkManager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	concurrent := cfg.ConcurrentRequests
	if concurrent <= 0 {
		concurrent = 1
	}
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPNetworkManager{
		Config: cfg,
		Client: &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
			Timeout:   timeout,
		},
		Logger:    log,
		BaseDelay: time.Second,
		sem:       make(chan struct{}, concurrent),
	}
}

// -----------------------------------------------------------------------------

// Get performs a GET request with retries. At most ConcurrentRequests calls
// are in flight at once.
func (nm *HTTPNetworkManager) Get(ctx context.Context, urlStr string, params map[string]string) ([]byte, error) {
	reqURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, helpers.NewValidationError("bad url %q: %v", urlStr, err)
	}

	q := reqURL.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	reqURL.RawQuery = q.Encode()
	finalURL := reqURL.String()

	select {
	case nm.sem <- struct{}{}:
		defer func() { <-nm.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return helpers.RetryWithBackoff(nm.Logger, "fetch "+reqURL.Path, nm.Config.MaxRetries+1, nm.BaseDelay, func() ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nm.do(ctx, finalURL)
	})
}

// -----------------------------------------------------------------------------

func (nm *HTTPNetworkManager) do(ctx context.Context, finalURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
	if err != nil {
		return nil, err
	}
	if nm.Config.UserAgent != "" {
		req.Header.Set("User-Agent", nm.Config.UserAgent)
	}

	resp, err := nm.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
		nm.Logger.Info("Request blocked (%d)", resp.StatusCode)
		return nil, fmt.Errorf("blocked (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
