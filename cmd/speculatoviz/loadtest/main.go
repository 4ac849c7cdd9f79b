// Command loadtest drives concurrent /ws generations against a running
// speculatoviz server and reports per-generation latency and throughput, in the
// teacher's benchmark style but exercising this repo's actual domain
// surface (a full start -> stream -> done round trip) instead of a static
// REST endpoint.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type benchmarkConfig struct {
	WSURL       string
	APIKey      string
	Clients     int
	Rounds      int
	Prompt      string
	MaxTokens   int
	Temperature float64
	K           int
	Timeout     time.Duration
	Format      string
}

type roundResult struct {
	success  bool
	latency  time.Duration
	tokens   int
	errorMsg string
}

var (
	config       benchmarkConfig
	results      []roundResult
	resultsMutex sync.Mutex
)

func init() {
	flag.StringVar(&config.WSURL, "url", "ws://localhost:8080/ws", "WebSocket URL for the orchestrator")
	flag.StringVar(&config.APIKey, "api-key", "", "API key, sent as ?api_key=")
	flag.IntVar(&config.Clients, "clients", 5, "Number of concurrent WebSocket clients")
	flag.IntVar(&config.Rounds, "rounds", 3, "Generations per client")
	flag.StringVar(&config.Prompt, "prompt", "Explain speculative decoding in one paragraph.", "Prompt to send")
	flag.IntVar(&config.MaxTokens, "max-tokens", 128, "max_tokens per generation")
	flag.Float64Var(&config.Temperature, "temperature", 0.7, "Sampling temperature")
	flag.IntVar(&config.K, "k", 8, "Speculation window K")
	flag.DurationVar(&config.Timeout, "timeout", 60*time.Second, "Per-generation timeout")
	flag.StringVar(&config.Format, "format", "text", "Output format (text/json)")
}

func main() {
	flag.Parse()

	fmt.Println("Speculatoviz WebSocket Load Test")
	fmt.Println("=================================")
	fmt.Printf("URL:          %s\n", config.WSURL)
	fmt.Printf("Clients:      %d\n", config.Clients)
	fmt.Printf("Rounds:       %d per client\n", config.Rounds)
	fmt.Printf("Max tokens:   %d\n", config.MaxTokens)
	fmt.Println()

	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < config.Clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runClient()
		}()
	}
	wg.Wait()

	elapsed := time.Since(start)
	printResults(elapsed)
}

func runClient() {
	dialURL := config.WSURL
	if config.APIKey != "" {
		u, err := url.Parse(config.WSURL)
		if err == nil {
			q := u.Query()
			q.Set("api_key", config.APIKey)
			u.RawQuery = q.Encode()
			dialURL = u.String()
		}
	}

	for round := 0; round < config.Rounds; round++ {
		res := runOneGeneration(dialURL)
		resultsMutex.Lock()
		results = append(results, res)
		resultsMutex.Unlock()
	}
}

func runOneGeneration(dialURL string) roundResult {
	start := time.Now()

	conn, _, err := websocket.DefaultDialer.Dial(dialURL, nil)
	if err != nil {
		return roundResult{success: false, latency: time.Since(start), errorMsg: err.Error()}
	}
	defer conn.Close()

	startMsg := map[string]interface{}{
		"type": "start",
		"payload": map[string]interface{}{
			"prompt":      config.Prompt,
			"max_tokens":  config.MaxTokens,
			"temperature": config.Temperature,
			"k":           config.K,
		},
	}
	if err := conn.WriteJSON(startMsg); err != nil {
		return roundResult{success: false, latency: time.Since(start), errorMsg: err.Error()}
	}

	conn.SetReadDeadline(time.Now().Add(config.Timeout))

	tokens := 0
	for {
		var frame map[string]json.RawMessage
		if err := conn.ReadJSON(&frame); err != nil {
			return roundResult{success: false, latency: time.Since(start), tokens: tokens, errorMsg: err.Error()}
		}
		var frameType string
		if raw, ok := frame["type"]; ok {
			json.Unmarshal(raw, &frameType)
		}
		switch frameType {
		case "draft_token":
			tokens++
		case "done":
			return roundResult{success: true, latency: time.Since(start), tokens: tokens}
		case "error":
			var msg string
			if raw, ok := frame["message"]; ok {
				json.Unmarshal(raw, &msg)
			}
			return roundResult{success: false, latency: time.Since(start), tokens: tokens, errorMsg: msg}
		}
	}
}

func printResults(elapsed time.Duration) {
	resultsMutex.Lock()
	defer resultsMutex.Unlock()

	var latencies []time.Duration
	var successCount int
	var totalTokens int
	for _, r := range results {
		if r.success {
			successCount++
			latencies = append(latencies, r.latency)
			totalTokens += r.tokens
		}
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	percentile := func(p float64) time.Duration {
		if len(latencies) == 0 {
			return 0
		}
		idx := int(float64(len(latencies)) * p)
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	if config.Format == "json" {
		out := map[string]interface{}{
			"total_rounds":    len(results),
			"successful":      successCount,
			"failed":          len(results) - successCount,
			"total_duration":  elapsed.String(),
			"total_tokens":    totalTokens,
			"p50_latency_ms":  percentile(0.50).Milliseconds(),
			"p95_latency_ms":  percentile(0.95).Milliseconds(),
			"p99_latency_ms":  percentile(0.99).Milliseconds(),
			"tokens_per_sec":  float64(totalTokens) / elapsed.Seconds(),
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Println("\nResults")
	fmt.Println("=======")
	fmt.Printf("Total generations: %d\n", len(results))
	fmt.Printf("Successful:        %d\n", successCount)
	fmt.Printf("Failed:            %d\n", len(results)-successCount)
	fmt.Printf("Total duration:    %v\n", elapsed)
	fmt.Printf("Total tokens:      %d\n", totalTokens)
	fmt.Printf("Tokens/sec:        %.2f\n", float64(totalTokens)/elapsed.Seconds())
	fmt.Println()
	fmt.Println("Latency (successful generations):")
	fmt.Printf("  p50: %v\n", percentile(0.50))
	fmt.Printf("  p95: %v\n", percentile(0.95))
	fmt.Printf("  p99: %v\n", percentile(0.99))

	if len(results) > successCount {
		fmt.Println("\nFirst failure messages:")
		shown := 0
		for _, r := range results {
			if !r.success && shown < 5 {
				fmt.Printf("  - %s\n", strings.TrimSpace(r.errorMsg))
				shown++
			}
		}
	}
}
