package capture

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/graphsnap/graphsnap/internal/models"
)

// Sink receives capture notifications. Delivery must not block interception;
// implementations swallow their own errors.
type Sink interface {
	Deliver(batch models.CaptureBatch)
}

// Interceptor is a transparent http.RoundTripper tap. Responses belonging to
// the relation endpoint families are buffered, parsed, and forwarded to the
// sink; every response is returned to the caller unchanged regardless of
// parse outcome, and transport errors pass through untouched.
type Interceptor struct {
	base   http.RoundTripper
	parser *Parser
	sink   Sink
	logger *slog.Logger

	mu        sync.Mutex
	client    *http.Client
	installed bool
}

// NewInterceptor creates an interceptor around the given parser and sink.
func NewInterceptor(parser *Parser, sink Sink, logger *slog.Logger) *Interceptor {
	return &Interceptor{
		parser: parser,
		sink:   sink,
		logger: logger,
	}
}

// Install swaps the client's transport for the interceptor. It may be called
// at most once per interceptor; Restore puts the original transport back.
func (i *Interceptor) Install(client *http.Client) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.installed {
		return fmt.Errorf("interceptor already installed")
	}

	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	i.base = base
	i.client = client
	i.installed = true
	client.Transport = i

	return nil
}

// Restore reinstates the client's original transport. Safe to call multiple
// times; only the first call has an effect.
func (i *Interceptor) Restore() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.installed {
		return
	}

	i.client.Transport = i.base
	i.client = nil
	i.installed = false
}

// RoundTrip implements http.RoundTripper.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := i.base.RoundTrip(req)
	if err != nil || resp == nil {
		return resp, err
	}

	sourceURL := req.URL.String()
	if !MatchEndpoint(sourceURL) {
		return resp, nil
	}

	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	if readErr != nil {
		i.logger.Warn("failed to buffer intercepted response", "url", sourceURL, "error", readErr)
		return resp, nil
	}

	batch, parseErr := i.parser.Parse(body, sourceURL)
	if parseErr != nil {
		i.logger.Debug("discarding unparseable response", "url", sourceURL, "error", parseErr)
		return resp, nil
	}

	// Empty batches produce no notification.
	if len(batch.Records) == 0 {
		return resp, nil
	}

	batch.BatchID = uuid.New().String()

	i.logger.Info("captured connection records",
		"url", sourceURL,
		"relation", batch.Relation,
		"count", len(batch.Records),
		"batch_id", batch.BatchID,
	)

	i.sink.Deliver(batch)

	return resp, nil
}
