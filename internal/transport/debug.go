package transport

import (
	"encoding/json"
	"net/http"

	"speculatoviz/internal/draftmodel"
)

type debugDraftRequest struct {
	Prompt      string  `json:"prompt"`
	K           int     `json:"k"`
	Temperature float64 `json:"temperature"`
}

type debugDraftToken struct {
	Token   string  `json:"token"`
	TokenID int     `json:"token_id"`
	Logprob float64 `json:"logprob"`
	Entropy float64 `json:"entropy"`
}

// DebugDraftHandler runs a single-shot K-token draft probe against the
// configured DraftModel with no target verification, a diagnostic endpoint
// for operators to sanity-check the draft model independent of the target
// API, mirroring the original implementation's test-draft probe.
func DebugDraftHandler(draft draftmodel.Model) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req debugDraftRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.K <= 0 {
			req.K = 8
		}
		if req.Temperature == 0 {
			req.Temperature = 0.7
		}

		ctx := r.Context()
		_, contextIDs, err := draft.ApplyChatTemplate(ctx, req.Prompt)
		if err != nil {
			http.Error(w, "apply chat template: "+err.Error(), http.StatusBadGateway)
			return
		}

		tokens, err := draft.Draft(ctx, contextIDs, req.K, req.Temperature)
		if err != nil {
			http.Error(w, "draft: "+err.Error(), http.StatusBadGateway)
			return
		}

		out := make([]debugDraftToken, len(tokens))
		for i, t := range tokens {
			out[i] = debugDraftToken{Token: t.Token, TokenID: t.TokenID, Logprob: t.Logprob, Entropy: t.Entropy}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"tokens": out})
	}
}
