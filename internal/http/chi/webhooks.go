package chi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tunecast/distributor/delivery"
	"github.com/tunecast/distributor/partner"
)

// webhookResponse acknowledges a partner callback
type webhookResponse struct {
	Outcome string `json:"outcome"`
}

/* postWebhook handles POST /v1/webhooks/{partner_id}.
 * The reconciler owns authentication, dedupe and the state transition;
 * this layer only maps its verdict onto status codes. Unverifiable
 * payloads get a 4xx so honest partners notice misconfigured secrets,
 * while every consumed event is acknowledged with 202 regardless of
 * what it did to the attempt, keeping partner redelivery loops quiet.
 */
func postWebhook(reconciler *delivery.Reconciler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		partnerID := chi.URLParam(r, "partner_id")
		if partnerID == "" {
			http.Error(w, "partner_id is required", http.StatusBadRequest)
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		outcome, err := reconciler.Reconcile(r.Context(), partnerID, r.Header, payload)
		if err != nil {
			var recErr *delivery.ReconciliationError
			switch {
			case errors.As(err, &recErr):
				var notFound *partner.ErrNotFound
				if errors.As(recErr.Err, &notFound) {
					http.Error(w, recErr.Error(), http.StatusNotFound)
					return
				}
				http.Error(w, recErr.Error(), http.StatusBadRequest)
				return
			case outcome == delivery.Unmatched:
				// Accepted; a deferred pass picks it up once the submit
				// response lands
			default:
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		if err := json.NewEncoder(w).Encode(webhookResponse{Outcome: outcome.String()}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
