package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultAPIBaseURL is the ClinicalTrials.gov v2 studies endpoint.
const DefaultAPIBaseURL = "https://clinicaltrials.gov/api/v2/studies"

// Fetcher retrieves the current record for a trial id. Implementations
// return an error for anything that prevented a parsed record; the caller
// decides whether to fall back to the stored snapshot.
type Fetcher interface {
	Fetch(ctx context.Context, id string) (Record, error)
}

// APIFetcher fetches study records over HTTP. One APIFetcher owns one
// http.Client for the whole run so connections are reused across trials.
type APIFetcher struct {
	client  *http.Client
	baseURL string
	logger  *logrus.Logger
}

func NewAPIFetcher(baseURL string, timeout time.Duration, logger *logrus.Logger) *APIFetcher {
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &APIFetcher{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger,
	}
}

func (f *APIFetcher) Fetch(ctx context.Context, id string) (Record, error) {
	url := f.baseURL + "/" + id
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.WithField("trial_id", id).Debugf("request failed: %v", err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.logger.WithFields(logrus.Fields{
			"trial_id": id,
			"status":   resp.StatusCode,
		}).Debug("unexpected response status")
		return nil, fmt.Errorf("fetch %s: unexpected status %d", id, resp.StatusCode)
	}

	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("fetch %s: decode body: %w", id, err)
	}
	return rec, nil
}
