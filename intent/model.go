package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-intake/core"
)

const (
	defaultModelRequestTimeout = 5 * time.Second
	maxModelResponseBytes      = int64(64 * 1024)
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type ModelConfig struct {
	// Endpoint receives POST {"text": ...} and answers
	// {"intent": ..., "confidence": ...}.
	Endpoint       string
	HTTPClient     HTTPDoer
	RequestTimeout time.Duration
	// Fallback handles endpoint failures and unusable responses.
	// Defaults to the keyword classifier.
	Fallback core.Classifier
	Logger   core.Logger
}

// ModelClassifier scores text against an external model endpoint. Any
// transport or decoding failure degrades to the fallback classifier so the
// routing path never stalls on the model service.
type ModelClassifier struct {
	endpoint       string
	httpClient     HTTPDoer
	requestTimeout time.Duration
	fallback       core.Classifier
	logger         core.Logger
}

func NewModelClassifier(cfg ModelConfig) (*ModelClassifier, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("intent: model endpoint is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultModelRequestTimeout}
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultModelRequestTimeout
	}
	fallback := cfg.Fallback
	if fallback == nil {
		fallback = NewKeywordClassifier(nil)
	}
	return &ModelClassifier{
		endpoint:       endpoint,
		httpClient:     httpClient,
		requestTimeout: requestTimeout,
		fallback:       fallback,
		logger:         glog.Ensure(cfg.Logger),
	}, nil
}

func (c *ModelClassifier) Classify(ctx context.Context, text string) (core.Classification, error) {
	if c == nil {
		return core.Classification{}, fmt.Errorf("intent: model classifier is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	classification, err := c.score(ctx, text)
	if err == nil {
		return classification, nil
	}
	c.logger.Error("model classification failed, using fallback", "error", err)
	return c.fallback.Classify(ctx, text)
}

func (c *ModelClassifier) score(ctx context.Context, text string) (core.Classification, error) {
	requestCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return core.Classification{}, err
	}
	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return core.Classification{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return core.Classification{}, err
	}
	defer res.Body.Close()
	body, readErr := io.ReadAll(io.LimitReader(res.Body, maxModelResponseBytes+1))
	if readErr != nil {
		return core.Classification{}, fmt.Errorf("intent: read model response: %w", readErr)
	}
	if int64(len(body)) > maxModelResponseBytes {
		return core.Classification{}, fmt.Errorf("intent: model response exceeds %d bytes", maxModelResponseBytes)
	}
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return core.Classification{}, fmt.Errorf("intent: model endpoint returned status %d", res.StatusCode)
	}

	var decoded struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return core.Classification{}, fmt.Errorf("intent: decode model response: %w", err)
	}
	intent, err := parseIntent(decoded.Intent)
	if err != nil {
		return core.Classification{}, err
	}
	if decoded.Confidence < 0 || decoded.Confidence > 1 {
		return core.Classification{}, fmt.Errorf("intent: model confidence %v out of range", decoded.Confidence)
	}
	return core.Classification{Intent: intent, Confidence: decoded.Confidence}, nil
}

func parseIntent(value string) (core.Intent, error) {
	candidate := core.Intent(strings.ToUpper(strings.TrimSpace(value)))
	for _, intent := range core.Intents() {
		if candidate == intent {
			return intent, nil
		}
	}
	return "", fmt.Errorf("intent: unknown intent %q", value)
}

var _ core.Classifier = (*ModelClassifier)(nil)
