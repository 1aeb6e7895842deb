package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/tunecast/distributor/adapter/signature"
	"github.com/tunecast/distributor/partner"
	"github.com/tunecast/distributor/release"
)

/* JSONAPIAdapter speaks to partners exposing a JSON ingestion API:
 * one POST per deliverable, bearer-authenticated, synchronous JSON
 * acknowledgement carrying the partner's tracking id, asynchronous
 * result reported later through a signed webhook.
 */

const (
	headerEventID   = "Webhook-Id"
	headerTimestamp = "Webhook-Timestamp"
	headerSignature = "Webhook-Signature"

	// webhookTolerance bounds how stale a callback timestamp may be
	// before verification fails closed
	webhookTolerance = 5 * time.Minute
)

type JSONAPIAdapter struct {
	Client *http.Client
}

// NewJSONAPIAdapter creates the adapter with the given HTTP client
func NewJSONAPIAdapter(client *http.Client) *JSONAPIAdapter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &JSONAPIAdapter{Client: client}
}

type jsonSubmitRequest struct {
	ReleaseID   string          `json:"release_id"`
	Title       string          `json:"title"`
	Artist      string          `json:"artist"`
	Label       string          `json:"label,omitempty"`
	UPC         string          `json:"upc,omitempty"`
	ReleaseDate string          `json:"release_date,omitempty"`
	Tracks      []jsonTrack     `json:"tracks"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

type jsonTrack struct {
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Position   int    `json:"position"`
	ISRC       string `json:"isrc,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

type jsonSubmitResponse struct {
	DeliveryID string `json:"delivery_id"`
	ID         string `json:"id"`
	Message    string `json:"message"`
}

type jsonWebhookPayload struct {
	DeliveryID string `json:"delivery_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

// Submit POSTs the deliverable to the partner's ingestion endpoint
func (a *JSONAPIAdapter) Submit(ctx context.Context, d release.Deliverable, p partner.Partner) (SubmitResult, error) {
	body, err := json.Marshal(buildJSONRequest(d))
	if err != nil {
		return SubmitResult{}, &PartnerError{PartnerID: p.ID, Class: Permanent, Err: fmt.Errorf("encoding request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return SubmitResult{}, &PartnerError{PartnerID: p.ID, Class: Permanent, Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("Idempotency-Key", IdempotencyHeader(d, p))

	resp, err := a.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown or timeout from our side; not a partner verdict
			return SubmitResult{}, ctx.Err()
		}
		return SubmitResult{}, &PartnerError{PartnerID: p.ID, Class: Transient, Err: fmt.Errorf("submitting release: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SubmitResult{}, &PartnerError{PartnerID: p.ID, Class: Ambiguous, Err: fmt.Errorf("reading response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var parsed jsonSubmitResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return SubmitResult{}, &PartnerError{PartnerID: p.ID, Class: Ambiguous, Err: fmt.Errorf("parsing acceptance: %w", err)}
		}
		ref := parsed.DeliveryID
		if ref == "" {
			ref = parsed.ID
		}
		if ref == "" {
			return SubmitResult{}, &PartnerError{PartnerID: p.ID, Class: Ambiguous, Err: fmt.Errorf("acceptance carries no tracking id")}
		}
		return SubmitResult{ExternalRef: ref, Message: parsed.Message}, nil

	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return SubmitResult{}, &PartnerError{PartnerID: p.ID, Class: Transient, Err: fmt.Errorf("partner returned %d: %s", resp.StatusCode, respBody)}

	case resp.StatusCode >= 400:
		return SubmitResult{}, &PartnerError{PartnerID: p.ID, Class: Permanent, Err: fmt.Errorf("partner rejected submission with %d: %s", resp.StatusCode, respBody)}

	default:
		return SubmitResult{}, &PartnerError{PartnerID: p.ID, Class: Ambiguous, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
}

// Takedown issues a DELETE against the delivery the partner tracks
// under externalRef. A 404 counts as removed: the partner no longer
// has the release either way.
func (a *JSONAPIAdapter) Takedown(ctx context.Context, externalRef string, p partner.Partner) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.Endpoint+"/"+externalRef, nil)
	if err != nil {
		return &PartnerError{PartnerID: p.ID, Class: Permanent, Err: fmt.Errorf("building takedown request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := a.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &PartnerError{PartnerID: p.ID, Class: Transient, Err: fmt.Errorf("requesting takedown: %w", err)}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300, resp.StatusCode == http.StatusNotFound:
		return nil

	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return &PartnerError{PartnerID: p.ID, Class: Transient, Err: fmt.Errorf("partner returned %d: %s", resp.StatusCode, respBody)}

	case resp.StatusCode >= 400:
		return &PartnerError{PartnerID: p.ID, Class: Permanent, Err: fmt.Errorf("partner refused takedown with %d: %s", resp.StatusCode, respBody)}

	default:
		return &PartnerError{PartnerID: p.ID, Class: Ambiguous, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
}

/* ParseWebhook authenticates and maps a JSON callback. Order matters:
 * signature first, then shape; a payload that fails either check
 * produces an error and no event.
 */
func (a *JSONAPIAdapter) ParseWebhook(p partner.Partner, headers http.Header, payload []byte) (ParsedEvent, error) {
	eventID := headers.Get(headerEventID)
	if eventID == "" {
		return ParsedEvent{}, fmt.Errorf("missing %s header", headerEventID)
	}
	tsRaw := headers.Get(headerTimestamp)
	unix, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return ParsedEvent{}, fmt.Errorf("invalid %s header: %w", headerTimestamp, err)
	}
	ts := time.Unix(unix, 0)
	if age := time.Since(ts); age > webhookTolerance || age < -webhookTolerance {
		return ParsedEvent{}, fmt.Errorf("webhook timestamp outside tolerance: %s", ts.UTC().Format(time.RFC3339))
	}

	secret, err := signature.ParseSecret(p.SigningSecret)
	if err != nil {
		return ParsedEvent{}, fmt.Errorf("loading signing secret: %w", err)
	}
	ok, err := signature.VerifyHeader(secret, eventID, ts, payload, headers.Get(headerSignature))
	if err != nil {
		return ParsedEvent{}, fmt.Errorf("verifying signature: %w", err)
	}
	if !ok {
		return ParsedEvent{}, fmt.Errorf("signature verification failed")
	}

	var body jsonWebhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return ParsedEvent{}, fmt.Errorf("parsing webhook payload: %w", err)
	}
	if body.DeliveryID == "" {
		return ParsedEvent{}, fmt.Errorf("webhook carries no delivery id")
	}

	outcome, err := mapJSONStatus(body.Status)
	if err != nil {
		return ParsedEvent{}, err
	}

	return ParsedEvent{
		EventID:     eventID,
		ExternalRef: body.DeliveryID,
		Outcome:     outcome,
		Message:     body.Message,
		OccurredAt:  ts,
	}, nil
}

func mapJSONStatus(status string) (Outcome, error) {
	switch status {
	case "delivered", "live":
		return OutcomeSuccess, nil
	case "failed":
		return OutcomeRetryableFailure, nil
	case "rejected":
		return OutcomePermanentFailure, nil
	default:
		return Outcome(0), fmt.Errorf("unknown delivery status %q", status)
	}
}

func buildJSONRequest(d release.Deliverable) jsonSubmitRequest {
	tracks := make([]jsonTrack, len(d.Tracks))
	for i, t := range d.Tracks {
		tracks[i] = jsonTrack{
			Title:      t.Title,
			Artist:     t.Artist,
			Position:   t.Position,
			ISRC:       t.ISRC,
			DurationMS: t.Duration.Milliseconds(),
		}
	}
	req := jsonSubmitRequest{
		ReleaseID: d.ReleaseID,
		Title:     d.Title,
		Artist:    d.Artist,
		Label:     d.Label,
		UPC:       d.UPC,
		Tracks:    tracks,
	}
	if !d.ReleaseDate.IsZero() {
		req.ReleaseDate = d.ReleaseDate.UTC().Format("2006-01-02")
	}
	if len(d.Metadata) > 0 {
		meta, err := json.Marshal(d.Metadata)
		if err == nil {
			req.Metadata = meta
		}
	}
	return req
}

// IdempotencyHeader is the partner-facing idempotency token; partners
// that honor it will not double-ingest a re-submitted deliverable
func IdempotencyHeader(d release.Deliverable, p partner.Partner) string {
	return d.ContentHash + ":" + p.ID
}
