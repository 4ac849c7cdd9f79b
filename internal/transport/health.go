package transport

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"
)

const Version = "0.1.0"

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]Status `json:"checks"`
}

type Status struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	GoVersion string `json:"go_version"`
}

var startTime = time.Now()

func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := HealthStatus{
			Status:    "healthy",
			Timestamp: time.Now(),
			Version:   Version,
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			Checks: map[string]Status{
				"server": {Status: "healthy"},
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}

func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK\n"))
	}
}

func ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready := true
		checks := make(map[string]Status)

		checks["memory"] = checkMemory()
		checks["goroutines"] = checkGoroutines()

		for _, check := range checks {
			if check.Status != "healthy" {
				ready = false
				break
			}
		}

		if ready {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("Ready\n"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": "not ready",
				"checks": checks,
			})
		}
	}
}

func VersionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info := VersionInfo{
			Version:   Version,
			GoVersion: runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(info)
	}
}

func checkMemory() Status {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	if m.Alloc > 1024*1024*1024 {
		return Status{Status: "warning", Message: "High memory usage"}
	}
	return Status{Status: "healthy"}
}

func checkGoroutines() Status {
	if n := runtime.NumGoroutine(); n > 10000 {
		return Status{Status: "warning", Message: "High number of goroutines"}
	}
	return Status{Status: "healthy"}
}
