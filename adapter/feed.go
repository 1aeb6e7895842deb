package adapter

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tunecast/distributor/adapter/signature"
	"github.com/tunecast/distributor/partner"
	"github.com/tunecast/distributor/release"
)

/* FeedAdapter serves the older batch-ingest partners: releases go out
 * as an XML feed document, the partner acknowledges with an XML
 * receipt, and the processing result arrives later as an XML callback.
 */

const (
	feedHeaderEventID   = "X-Feed-Event"
	feedHeaderTimestamp = "X-Feed-Timestamp"
	feedHeaderSignature = "X-Feed-Signature"
)

type FeedAdapter struct {
	Client *http.Client
}

// NewFeedAdapter creates the adapter with the given HTTP client
func NewFeedAdapter(client *http.Client) *FeedAdapter {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &FeedAdapter{Client: client}
}

type feedDocument struct {
	XMLName   xml.Name    `xml:"release-feed"`
	ReleaseID string      `xml:"release-id,attr"`
	Checksum  string      `xml:"checksum,attr"`
	Title     string      `xml:"title"`
	Artist    string      `xml:"artist"`
	Label     string      `xml:"label,omitempty"`
	UPC       string      `xml:"upc,omitempty"`
	Tracks    []feedTrack `xml:"tracklist>track"`
}

type feedTrack struct {
	Position int    `xml:"position,attr"`
	Title    string `xml:"title"`
	Artist   string `xml:"artist"`
	ISRC     string `xml:"isrc,omitempty"`
}

type feedReceipt struct {
	XMLName xml.Name `xml:"receipt"`
	ID      string   `xml:"id,attr"`
	Status  string   `xml:"status,attr"`
}

type feedCallback struct {
	XMLName xml.Name `xml:"delivery-result"`
	Ref     string   `xml:"ref,attr"`
	Outcome string   `xml:"outcome,attr"`
	Detail  string   `xml:",chardata"`
}

// Submit uploads the deliverable as an XML feed document
func (a *FeedAdapter) Submit(ctx context.Context, d release.Deliverable, p partner.Partner) (SubmitResult, error) {
	doc := feedDocument{
		ReleaseID: d.ReleaseID,
		Checksum:  d.ContentHash,
		Title:     d.Title,
		Artist:    d.Artist,
		Label:     d.Label,
		UPC:       d.UPC,
	}
	for _, t := range d.Tracks {
		doc.Tracks = append(doc.Tracks, feedTrack{
			Position: t.Position,
			Title:    t.Title,
			Artist:   t.Artist,
			ISRC:     t.ISRC,
		})
	}
	body, err := xml.Marshal(doc)
	if err != nil {
		return SubmitResult{}, &PartnerError{PartnerID: p.ID, Class: Permanent, Err: fmt.Errorf("encoding feed: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return SubmitResult{}, &PartnerError{PartnerID: p.ID, Class: Permanent, Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("X-Api-Key", p.APIKey)

	resp, err := a.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return SubmitResult{}, ctx.Err()
		}
		return SubmitResult{}, &PartnerError{PartnerID: p.ID, Class: Transient, Err: fmt.Errorf("uploading feed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SubmitResult{}, &PartnerError{PartnerID: p.ID, Class: Ambiguous, Err: fmt.Errorf("reading receipt: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var receipt feedReceipt
		if err := xml.Unmarshal(respBody, &receipt); err != nil || receipt.ID == "" {
			return SubmitResult{}, &PartnerError{PartnerID: p.ID, Class: Ambiguous, Err: fmt.Errorf("unparseable receipt: %s", respBody)}
		}
		if receipt.Status == "refused" {
			return SubmitResult{}, &PartnerError{PartnerID: p.ID, Class: Permanent, Err: fmt.Errorf("feed refused: %s", respBody)}
		}
		return SubmitResult{ExternalRef: receipt.ID}, nil

	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return SubmitResult{}, &PartnerError{PartnerID: p.ID, Class: Transient, Err: fmt.Errorf("partner returned %d", resp.StatusCode)}

	case resp.StatusCode >= 400:
		return SubmitResult{}, &PartnerError{PartnerID: p.ID, Class: Permanent, Err: fmt.Errorf("feed rejected with %d: %s", resp.StatusCode, respBody)}

	default:
		return SubmitResult{}, &PartnerError{PartnerID: p.ID, Class: Ambiguous, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
}

type feedTakedown struct {
	XMLName xml.Name `xml:"takedown-notice"`
	Ref     string   `xml:"ref,attr"`
}

// Takedown posts a takedown notice for a previously accepted feed
func (a *FeedAdapter) Takedown(ctx context.Context, externalRef string, p partner.Partner) error {
	body, err := xml.Marshal(feedTakedown{Ref: externalRef})
	if err != nil {
		return &PartnerError{PartnerID: p.ID, Class: Permanent, Err: fmt.Errorf("encoding takedown notice: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint+"/takedowns", bytes.NewReader(body))
	if err != nil {
		return &PartnerError{PartnerID: p.ID, Class: Permanent, Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("X-Api-Key", p.APIKey)

	resp, err := a.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &PartnerError{PartnerID: p.ID, Class: Transient, Err: fmt.Errorf("posting takedown notice: %w", err)}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		// Unknown ref means the feed is already gone on their side.
		return nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return &PartnerError{PartnerID: p.ID, Class: Transient, Err: fmt.Errorf("partner returned %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return &PartnerError{PartnerID: p.ID, Class: Permanent, Err: fmt.Errorf("takedown refused with %d", resp.StatusCode)}
	default:
		return &PartnerError{PartnerID: p.ID, Class: Ambiguous, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
}

// ParseWebhook authenticates and maps an XML callback
func (a *FeedAdapter) ParseWebhook(p partner.Partner, headers http.Header, payload []byte) (ParsedEvent, error) {
	eventID := headers.Get(feedHeaderEventID)
	if eventID == "" {
		return ParsedEvent{}, fmt.Errorf("missing %s header", feedHeaderEventID)
	}
	ts, err := time.Parse(time.RFC3339, headers.Get(feedHeaderTimestamp))
	if err != nil {
		return ParsedEvent{}, fmt.Errorf("invalid %s header: %w", feedHeaderTimestamp, err)
	}
	if age := time.Since(ts); age > webhookTolerance || age < -webhookTolerance {
		return ParsedEvent{}, fmt.Errorf("callback timestamp outside tolerance: %s", ts.UTC().Format(time.RFC3339))
	}

	secret, err := signature.ParseSecret(p.SigningSecret)
	if err != nil {
		return ParsedEvent{}, fmt.Errorf("loading signing secret: %w", err)
	}
	ok, err := signature.VerifyHeader(secret, eventID, ts, payload, headers.Get(feedHeaderSignature))
	if err != nil {
		return ParsedEvent{}, fmt.Errorf("verifying signature: %w", err)
	}
	if !ok {
		return ParsedEvent{}, fmt.Errorf("signature verification failed")
	}

	var cb feedCallback
	if err := xml.Unmarshal(payload, &cb); err != nil {
		return ParsedEvent{}, fmt.Errorf("parsing callback: %w", err)
	}
	if cb.Ref == "" {
		return ParsedEvent{}, fmt.Errorf("callback carries no delivery ref")
	}

	var outcome Outcome
	switch cb.Outcome {
	case "complete":
		outcome = OutcomeSuccess
	case "retry":
		outcome = OutcomeRetryableFailure
	case "refused":
		outcome = OutcomePermanentFailure
	default:
		return ParsedEvent{}, fmt.Errorf("unknown callback outcome %q", cb.Outcome)
	}

	return ParsedEvent{
		EventID:     eventID,
		ExternalRef: cb.Ref,
		Outcome:     outcome,
		Message:     cb.Detail,
		OccurredAt:  ts,
	}, nil
}
