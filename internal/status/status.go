// Package status serves the read-only GET /status view of the worker
// pool required by spec.md §4.5/§6, as a plain net/http JSON endpoint in
// the same style the teacher reaches for its own HTTP surfaces (no extra
// web framework — stdlib net/http is what the pack's HTTP endpoints use).
package status

import (
	"encoding/json"
	"net/http"

	"github.com/cuemby/dispatcher/internal/pool"
	"github.com/cuemby/dispatcher/internal/rpcapi"
)

// Response is the JSON body returned from GET /status, matching spec.md
// §6's documented schema.
type Response struct {
	Version    string           `json:"version"`
	ProverType rpcapi.ProofKind `json:"prover_type"`
	Workers    []WorkerView     `json:"workers"`
}

// WorkerView is one worker's status entry.
type WorkerView struct {
	Address string       `json:"address"`
	Version string       `json:"version,omitempty"`
	Status  workerStatus `json:"status"`
}

// workerStatus renders a worker's health as spec.md §6 requires: the bare
// string "Healthy" for Idle/Busy, or {"Unhealthy":{"failed_attempts":N,
// "reason":"..."}} for Unhealthy.
type workerStatus struct {
	healthy        bool
	failedAttempts int
	reason         string
}

type unhealthyDetail struct {
	FailedAttempts int    `json:"failed_attempts"`
	Reason         string `json:"reason"`
}

func (s workerStatus) MarshalJSON() ([]byte, error) {
	if s.healthy {
		return json.Marshal("Healthy")
	}
	return json.Marshal(map[string]unhealthyDetail{
		"Unhealthy": {FailedAttempts: s.failedAttempts, Reason: s.reason},
	})
}

// Handler returns an http.Handler serving the current pool snapshot.
// version is the dispatcher's own build version, reported verbatim.
func Handler(p *pool.Pool, kind rpcapi.ProofKind, version string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		snap := p.Snapshot()
		resp := Response{Version: version, ProverType: kind, Workers: make([]WorkerView, 0, len(snap))}
		for _, v := range snap {
			resp.Workers = append(resp.Workers, WorkerView{
				Address: v.Address,
				Version: v.Version,
				Status: workerStatus{
					healthy:        v.State != pool.StateUnhealthy,
					failedAttempts: v.FailedAttempts,
					reason:         v.Reason,
				},
			})
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
