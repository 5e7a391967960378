// Package adsense fetches raw reports from the AdSense Management API.
package adsense

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	adsenseapi "google.golang.org/api/adsense/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/rewired-gh/adreport/internal/logger"
	"github.com/rewired-gh/adreport/internal/models"
)

// Client provides access to AdSense reports
type Client struct {
	svc            *adsenseapi.Service
	account        string
	metrics        []string
	dimensions     []string
	dateRange      string
	orderBy        string
	maxRetries     int
	retryDelayBase time.Duration
}

// ClientConfig configures report generation and retries
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
	// Account is "accounts/pub-..." or "pub-..."; empty selects the first account.
	Account        string
	Metrics        []string
	Dimensions     []string
	DateRange      string
	OrderBy        string
	Timeout        time.Duration
	MaxRetries     int
	RetryDelayBase time.Duration
}

// NewClient creates a client authenticated with the stored refresh token.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{adsenseapi.AdsenseReadonlyScope},
	}
	// An already expired token makes the first call refresh it.
	token := &oauth2.Token{
		AccessToken:  cfg.AccessToken,
		RefreshToken: cfg.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	}

	base := &http.Client{Timeout: cfg.Timeout}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	httpClient := oauth2.NewClient(ctx, oauthCfg.TokenSource(ctx, token))
	httpClient.Timeout = cfg.Timeout

	return NewClientWithOptions(ctx, cfg, option.WithHTTPClient(httpClient))
}

// NewClientWithOptions creates a client with explicit API options.
func NewClientWithOptions(ctx context.Context, cfg ClientConfig, opts ...option.ClientOption) (*Client, error) {
	svc, err := adsenseapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AdSense service: %w", err)
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	if cfg.DateRange == "" {
		cfg.DateRange = "MONTH_TO_DATE"
	}

	return &Client{
		svc:            svc,
		account:        normalizeAccount(cfg.Account),
		metrics:        cfg.Metrics,
		dimensions:     cfg.Dimensions,
		dateRange:      cfg.DateRange,
		orderBy:        cfg.OrderBy,
		maxRetries:     cfg.MaxRetries,
		retryDelayBase: cfg.RetryDelayBase,
	}, nil
}

func normalizeAccount(account string) string {
	if account == "" || strings.HasPrefix(account, "accounts/") {
		return account
	}
	return "accounts/" + account
}

// Report generates the configured report for the account.
func (c *Client) Report(ctx context.Context) (*models.RawReport, error) {
	account, err := c.resolveAccount(ctx)
	if err != nil {
		return nil, err
	}

	logger.Debug("Generating report for %s (metrics: %v, dimensions: %v, range: %s)",
		account, c.metrics, c.dimensions, c.dateRange)

	var result *adsenseapi.ReportResult
	err = c.withRetry(ctx, "generate report", func() error {
		call := c.svc.Accounts.Reports.Generate(account).
			Metrics(c.metrics...).
			Dimensions(c.dimensions...).
			DateRange(c.dateRange).
			Context(ctx)
		if c.orderBy != "" {
			call = call.OrderBy(c.orderBy)
		}
		var callErr error
		result, callErr = call.Do()
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate report: %w", err)
	}

	return toRawReport(result), nil
}

func (c *Client) resolveAccount(ctx context.Context) (string, error) {
	if c.account != "" {
		return c.account, nil
	}

	var resp *adsenseapi.ListAccountsResponse
	err := c.withRetry(ctx, "list accounts", func() error {
		var callErr error
		resp, callErr = c.svc.Accounts.List().Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("failed to list accounts: %w", err)
	}
	if len(resp.Accounts) == 0 {
		return "", errors.New("no AdSense accounts available")
	}

	c.account = resp.Accounts[0].Name
	logger.Info("Using AdSense account %s", c.account)
	return c.account, nil
}

// withRetry runs fn with linear backoff, retrying transport and server errors.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return err
		}
		logger.Warn("AdSense %s failed (attempt %d/%d): %v", op, i+1, c.maxRetries, err)
		if i == c.maxRetries-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	return true
}

// toRawReport converts API rows. The API omits empty values, so an empty
// string becomes an absent value.
func toRawReport(r *adsenseapi.ReportResult) *models.RawReport {
	if r == nil {
		return &models.RawReport{}
	}
	raw := &models.RawReport{
		Totals:   toCellGroup(r.Totals),
		Averages: toCellGroup(r.Averages),
	}
	if len(r.Rows) > 0 {
		raw.Rows = make([]models.CellGroup, 0, len(r.Rows))
		for _, row := range r.Rows {
			if g := toCellGroup(row); g != nil {
				raw.Rows = append(raw.Rows, *g)
			}
		}
	}
	return raw
}

func toCellGroup(row *adsenseapi.Row) *models.CellGroup {
	if row == nil {
		return nil
	}
	g := &models.CellGroup{Cells: make([]models.Cell, len(row.Cells))}
	for i, cell := range row.Cells {
		if cell != nil && cell.Value != "" {
			g.Cells[i] = models.NewCell(cell.Value)
		}
	}
	return g
}

// LoadFile reads a raw report saved as JSON.
func LoadFile(path string) (*models.RawReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report file: %w", err)
	}
	var raw models.RawReport
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode report file: %w", err)
	}
	return &raw, nil
}

// FileSource serves a raw report from a JSON file.
type FileSource struct {
	Path string
}

// Report loads the file on every call.
func (s FileSource) Report(ctx context.Context) (*models.RawReport, error) {
	return LoadFile(s.Path)
}
