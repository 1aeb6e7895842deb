package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tunecast/distributor/delivery"
	"github.com/tunecast/distributor/partner"
	"github.com/tunecast/distributor/release"
)

/* HTTP layer DTOs for the distribution API
 * Separate from domain entities to avoid leaking internal structure
 */

// distributionRequest is the inbound release payload plus the target
// partner selection; an empty partner list means every active partner
type distributionRequest struct {
	Title       string            `json:"title"`
	Artist      string            `json:"artist"`
	Label       string            `json:"label,omitempty"`
	UPC         string            `json:"upc,omitempty"`
	ReleaseDate string            `json:"release_date,omitempty"`
	Tracks      []trackRequest    `json:"tracks"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	PartnerIDs  []string          `json:"partner_ids,omitempty"`
}

type trackRequest struct {
	Title           string `json:"title"`
	Artist          string `json:"artist,omitempty"`
	Position        int    `json:"position"`
	ISRC            string `json:"isrc,omitempty"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
}

// attemptResponse represents one delivery attempt in the API
type attemptResponse struct {
	AttemptID   string `json:"attempt_id"`
	PartnerID   string `json:"partner_id"`
	State       string `json:"state"`
	ExternalRef string `json:"external_ref,omitempty"`
	Attempts    int    `json:"attempts"`
	LastError   string `json:"last_error,omitempty"`
	NextRetryAt string `json:"next_retry_at,omitempty"`
}

// distributionResponse is returned on dispatch and on status reads
type distributionResponse struct {
	ReleaseID string            `json:"release_id"`
	Status    string            `json:"status,omitempty"`
	Attempts  []attemptResponse `json:"attempts"`
}

type validationErrorResponse struct {
	Error      string   `json:"error"`
	Violations []string `json:"violations"`
}

type partnerResponse struct {
	PartnerID      string `json:"partner_id"`
	Name           string `json:"name"`
	Protocol       string `json:"protocol"`
	Active         bool   `json:"active"`
	MaxConcurrency int    `json:"max_concurrency"`
	MaxRetries     int    `json:"max_retries"`
}

func toAttemptResponse(a delivery.Attempt) attemptResponse {
	resp := attemptResponse{
		AttemptID:   a.ID,
		PartnerID:   a.PartnerID,
		State:       a.State.String(),
		ExternalRef: a.ExternalRef,
		Attempts:    a.AttemptCount,
		LastError:   a.LastError,
	}
	if a.State == delivery.RetryScheduled && !a.NextRetryAt.IsZero() {
		resp.NextRetryAt = a.NextRetryAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// postDistribution handles POST /v1/releases/{release_id}/distributions
func postDistribution(deliveryService delivery.UseCase, partners *partner.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		releaseID := chi.URLParam(r, "release_id")
		if releaseID == "" {
			http.Error(w, "release_id is required", http.StatusBadRequest)
			return
		}

		var req distributionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		rel := release.Release{
			ID:       releaseID,
			Title:    req.Title,
			Artist:   req.Artist,
			Label:    req.Label,
			UPC:      req.UPC,
			Metadata: req.Metadata,
		}
		if req.ReleaseDate != "" {
			date, err := time.Parse("2006-01-02", req.ReleaseDate)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid release_date: %v", err), http.StatusBadRequest)
				return
			}
			rel.ReleaseDate = date
		}
		for _, tr := range req.Tracks {
			if tr.Artist == "" {
				tr.Artist = req.Artist
			}
			rel.Tracks = append(rel.Tracks, release.Track{
				Title:    tr.Title,
				Artist:   tr.Artist,
				Position: tr.Position,
				ISRC:     tr.ISRC,
				Duration: time.Duration(tr.DurationSeconds) * time.Second,
			})
		}

		deliverable, err := release.Validate(rel)
		if err != nil {
			var verr *release.ValidationError
			if errors.As(err, &verr) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnprocessableEntity)
				json.NewEncoder(w).Encode(validationErrorResponse{
					Error:      "release failed intake validation",
					Violations: verr.Violations,
				})
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		targets, err := partners.Resolve(req.PartnerIDs)
		if err != nil {
			var notFound *partner.ErrNotFound
			if errors.As(err, &notFound) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(targets) == 0 {
			http.Error(w, "no active partners to distribute to", http.StatusUnprocessableEntity)
			return
		}

		attempts, err := deliveryService.Dispatch(r.Context(), deliverable, targets)
		if err != nil && len(attempts) == 0 {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		resp := distributionResponse{ReleaseID: releaseID}
		for _, a := range attempts {
			resp.Attempts = append(resp.Attempts, toAttemptResponse(a))
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// getDistributionStatus handles GET /v1/releases/{release_id}/distributions
func getDistributionStatus(deliveryService delivery.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		releaseID := chi.URLParam(r, "release_id")

		status, err := deliveryService.AggregateStatus(r.Context(), releaseID)
		if err != nil {
			if errors.Is(err, delivery.ErrAttemptNotFound) {
				http.Error(w, fmt.Sprintf("no distributions for release %s", releaseID), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		resp := distributionResponse{
			ReleaseID: status.ReleaseID,
			Status:    status.State.String(),
		}
		for _, a := range status.Attempts {
			resp.Attempts = append(resp.Attempts, toAttemptResponse(a))
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// getDistributionDetail handles GET /v1/releases/{release_id}/distributions/{partner_id}
func getDistributionDetail(deliveryService delivery.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		releaseID := chi.URLParam(r, "release_id")
		partnerID := chi.URLParam(r, "partner_id")

		attempt, err := deliveryService.AttemptDetail(r.Context(), releaseID, partnerID)
		if err != nil {
			if errors.Is(err, delivery.ErrAttemptNotFound) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(toAttemptResponse(attempt)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// retriesRequest optionally narrows a manual retry to specific partners
type retriesRequest struct {
	PartnerIDs []string `json:"partner_ids,omitempty"`
}

// postRetries handles POST /v1/releases/{release_id}/distributions/retries
func postRetries(deliveryService delivery.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		releaseID := chi.URLParam(r, "release_id")

		var req retriesRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
				return
			}
		}
		defer r.Body.Close()

		reopened, err := deliveryService.RetryFailed(r.Context(), releaseID, req.PartnerIDs)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		resp := distributionResponse{ReleaseID: releaseID}
		for _, a := range reopened {
			resp.Attempts = append(resp.Attempts, toAttemptResponse(a))
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// takedownsRequest optionally narrows a takedown to specific partners
type takedownsRequest struct {
	PartnerIDs []string `json:"partner_ids,omitempty"`
}

type takedownsResponse struct {
	ReleaseID string                    `json:"release_id"`
	Results   []delivery.TakedownResult `json:"results"`
}

// postTakedowns handles POST /v1/releases/{release_id}/distributions/takedowns
func postTakedowns(deliveryService delivery.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		releaseID := chi.URLParam(r, "release_id")

		var req takedownsRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
				return
			}
		}
		defer r.Body.Close()

		results, err := deliveryService.Takedown(r.Context(), releaseID, req.PartnerIDs)
		if err != nil {
			if errors.Is(err, delivery.ErrAttemptNotFound) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		resp := takedownsResponse{ReleaseID: releaseID, Results: results}
		if resp.Results == nil {
			resp.Results = []delivery.TakedownResult{}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// getPartners handles GET /v1/partners
func getPartners(partners *partner.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		all := partners.List()

		responses := make([]partnerResponse, 0, len(all))
		for _, p := range all {
			responses = append(responses, partnerResponse{
				PartnerID:      p.ID,
				Name:           p.Name,
				Protocol:       p.Protocol.String(),
				Active:         p.Active,
				MaxConcurrency: p.MaxConcurrency,
				MaxRetries:     p.Retry.MaxRetries,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(responses); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

func getWorkers(service delivery.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		workers, err := service.ActiveWorkers(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if workers == nil {
			workers = []delivery.WorkerHeartbeat{}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(workers); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
