package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/thedevsaddam/gojsonq/v2"
)

const maxClassifierResponse = 64 << 10

// HTTPClassifier posts the message to a classification endpoint and reads
// the label and confidence from configurable paths of the JSON answer,
// e.g. "result.intent" or "predictions.[0].score".
type HTTPClassifier struct {
	url            string
	client         *http.Client
	labelPath      string
	confidencePath string
}

func NewHTTPClassifier(url string, timeout time.Duration, labelPath string, confidencePath string) *HTTPClassifier {
	return &HTTPClassifier{
		url:            url,
		client:         &http.Client{Timeout: timeout},
		labelPath:      labelPath,
		confidencePath: confidencePath,
	}
}

type classifyRequest struct {
	Text    string          `json:"text"`
	Context ClassifyContext `json:"context"`
}

func (c *HTTPClassifier) Classify(ctx context.Context, text string, cctx ClassifyContext) (label string, confidence float64, err error) {
	body, err := json.Marshal(classifyRequest{Text: text, Context: cctx})
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
		return
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		err = fmt.Errorf("%w: status %d", ErrClassifierUnavailable, resp.StatusCode)
		return
	}
	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("classifier rejected request: status %d", resp.StatusCode)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxClassifierResponse))
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
		return
	}

	return c.extract(string(raw))
}

func (c *HTTPClassifier) extract(raw string) (label string, confidence float64, err error) {
	jq := gojsonq.New().FromString(raw)
	if jq.Error() != nil {
		err = fmt.Errorf("classifier response is not JSON: %w", jq.Error())
		return
	}

	label, ok := jq.Find(c.labelPath).(string)
	if !ok {
		err = fmt.Errorf("classifier response has no label at %q", c.labelPath)
		return
	}

	confidence, ok = gojsonq.New().FromString(raw).Find(c.confidencePath).(float64)
	if !ok {
		err = fmt.Errorf("classifier response has no confidence at %q", c.confidencePath)
		return
	}

	return label, confidence, nil
}
