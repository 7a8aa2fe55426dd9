package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type benchResult struct {
	Timestamp          string         `json:"timestamp"`
	BaseURL            string         `json:"base_url"`
	Transactions       int            `json:"transactions"`
	Concurrency        int            `json:"concurrency"`
	TotalRequests      int            `json:"total_requests"`
	SuccessfulRequests int            `json:"successful_requests"`
	ErrorRequests      int            `json:"error_requests"`
	DurationSeconds    float64        `json:"duration_seconds"`
	AvgLatencyMs       float64        `json:"avg_latency_ms"`
	MinLatencyMs       float64        `json:"min_latency_ms"`
	MaxLatencyMs       float64        `json:"max_latency_ms"`
	P50LatencyMs       float64        `json:"p50_latency_ms"`
	P90LatencyMs       float64        `json:"p90_latency_ms"`
	P95LatencyMs       float64        `json:"p95_latency_ms"`
	P99LatencyMs       float64        `json:"p99_latency_ms"`
	ThroughputRPS      float64        `json:"throughput_rps"`
	StatusCounts       map[string]int `json:"status_counts"`
	FirstError         string         `json:"first_error"`
	FinalizedRequests  int            `json:"finalized_requests"`
	FinalTimeouts      int            `json:"final_timeouts"`
	FinalAvgLatencyMs  float64        `json:"final_avg_latency_ms"`
	FinalP50LatencyMs  float64        `json:"final_p50_latency_ms"`
	FinalP90LatencyMs  float64        `json:"final_p90_latency_ms"`
	FinalP95LatencyMs  float64        `json:"final_p95_latency_ms"`
	FinalP99LatencyMs  float64        `json:"final_p99_latency_ms"`
}

type metrics struct {
	mu           sync.Mutex
	success      int
	errors       int
	total        time.Duration
	minLatency   time.Duration
	maxLatency   time.Duration
	latenciesMs  []float64
	finalMs      []float64
	finalTimeout int
	statusCounts map[string]int
	firstError   string
}

func newMetrics() *metrics {
	return &metrics{statusCounts: make(map[string]int)}
}

func (m *metrics) recordRequest(latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.errors++
		if m.firstError == "" {
			m.firstError = err.Error()
		}
		return
	}
	m.success++
	m.total += latency
	if m.minLatency == 0 || latency < m.minLatency {
		m.minLatency = latency
	}
	if latency > m.maxLatency {
		m.maxLatency = latency
	}
	m.latenciesMs = append(m.latenciesMs, float64(latency.Milliseconds()))
}

func (m *metrics) recordFinal(latency time.Duration, reached bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !reached {
		m.finalTimeout++
		return
	}
	m.finalMs = append(m.finalMs, float64(latency.Milliseconds()))
}

func (m *metrics) recordStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCounts[strconv.Itoa(status)]++
}

func main() {
	baseURL := flag.String("base-url", getenv("ORDER_BASE_URL", "http://localhost:8081"), "order-service base URL")
	inventoryURL := flag.String("inventory-url", getenv("INVENTORY_BASE_URL", ""), "inventory-service base URL (for --seed)")
	seed := flag.Int("seed", 0, "seed this much stock for sku-1 before the run (requires --inventory-url)")
	total := flag.Int("total", 1000, "total number of orders to create")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	timeout := flag.Duration("timeout", 10*time.Second, "per-request timeout")
	awaitFinal := flag.Bool("await-final", false, "poll each order until it reaches a final saga status")
	finalTimeout := flag.Duration("final-timeout", 30*time.Second, "timeout for final status polling")
	finalInterval := flag.Duration("final-interval", 500*time.Millisecond, "poll interval for final status")
	finalStatuses := flag.String("final-statuses", "reserved,paid,cancelled", "comma-separated list of final order statuses")
	output := flag.String("output", "", "optional output path for JSON result")
	flag.Parse()

	if *total <= 0 {
		fmt.Fprintln(os.Stderr, "total must be > 0")
		os.Exit(1)
	}
	if *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "concurrency must be > 0")
		os.Exit(1)
	}

	client := &http.Client{}

	if *seed > 0 {
		if *inventoryURL == "" {
			fmt.Fprintln(os.Stderr, "--seed requires --inventory-url")
			os.Exit(1)
		}
		if err := seedStock(client, *inventoryURL, "sku-1", *seed, *timeout); err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
	}

	tasks := make(chan struct{})
	var wg sync.WaitGroup
	m := newMetrics()
	finalStatusSet := parseFinalStatuses(*finalStatuses)

	start := time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range tasks {
				reqStart := time.Now()
				orderID, status, err := createOrder(client, *baseURL, *timeout, m)
				m.recordRequest(time.Since(reqStart), err)
				if err == nil && *awaitFinal && orderID != "" {
					finalLatency, reached := waitForFinalStatus(client, *baseURL, orderID, status, finalStatusSet, *finalTimeout, *finalInterval)
					m.recordFinal(finalLatency, reached)
				}
			}
		}()
	}

	for i := 0; i < *total; i++ {
		tasks <- struct{}{}
	}
	close(tasks)
	wg.Wait()

	duration := time.Since(start)
	avgLatency := 0.0
	minLatency := 0.0
	maxLatency := 0.0
	if m.success > 0 {
		avgLatency = float64(m.total.Milliseconds()) / float64(m.success)
		minLatency = float64(m.minLatency.Milliseconds())
		maxLatency = float64(m.maxLatency.Milliseconds())
	}
	p50, p90, p95, p99 := calcPercentiles(m.latenciesMs)
	finalAvg, finalP50, finalP90, finalP95, finalP99 := calcFinalPercentiles(m.finalMs)

	result := benchResult{
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		BaseURL:            *baseURL,
		Transactions:       *total,
		Concurrency:        *concurrency,
		TotalRequests:      *total,
		SuccessfulRequests: m.success,
		ErrorRequests:      m.errors,
		DurationSeconds:    duration.Seconds(),
		AvgLatencyMs:       avgLatency,
		MinLatencyMs:       minLatency,
		MaxLatencyMs:       maxLatency,
		P50LatencyMs:       p50,
		P90LatencyMs:       p90,
		P95LatencyMs:       p95,
		P99LatencyMs:       p99,
		ThroughputRPS:      float64(m.success) / duration.Seconds(),
		StatusCounts:       m.statusCounts,
		FirstError:         m.firstError,
		FinalizedRequests:  len(m.finalMs),
		FinalTimeouts:      m.finalTimeout,
		FinalAvgLatencyMs:  finalAvg,
		FinalP50LatencyMs:  finalP50,
		FinalP90LatencyMs:  finalP90,
		FinalP95LatencyMs:  finalP95,
		FinalP99LatencyMs:  finalP99,
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode result: %v\n", err)
		os.Exit(1)
	}

	if *output != "" {
		if err := writeJSON(*output, result); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write output: %v\n", err)
			os.Exit(1)
		}
	}
}

func seedStock(client *http.Client, inventoryURL, productID string, available int, timeout time.Duration) error {
	data, _ := json.Marshal(map[string]any{"available": available})
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	url := strings.TrimRight(inventoryURL, "/") + "/api/v1/inventory/" + productID
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func createOrder(client *http.Client, baseURL string, timeout time.Duration, m *metrics) (string, string, error) {
	payload := map[string]any{
		"userId": "bench",
		"items":  []map[string]any{{"productId": "sku-1", "quantity": 1, "price": 1200}},
	}
	data, _ := json.Marshal(payload)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	url := strings.TrimRight(baseURL, "/") + "/api/v1/orders"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	resp, err := client.Do(req)
	if err != nil {
		m.recordStatus(0)
		return "", "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	m.recordStatus(resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var order struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &order); err != nil {
		return "", "", err
	}
	return order.ID, order.Status, nil
}

func parseFinalStatuses(input string) map[string]struct{} {
	result := map[string]struct{}{}
	for _, part := range strings.Split(input, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		result[name] = struct{}{}
	}
	return result
}

func waitForFinalStatus(client *http.Client, baseURL, orderID, initialStatus string, finals map[string]struct{}, timeout, interval time.Duration) (time.Duration, bool) {
	start := time.Now()
	if _, ok := finals[strings.ToLower(strings.TrimSpace(initialStatus))]; ok {
		return time.Since(start), true
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		status, err := fetchOrderStatus(client, baseURL, orderID)
		if err == nil {
			if _, ok := finals[strings.ToLower(strings.TrimSpace(status))]; ok {
				return time.Since(start), true
			}
		}
		time.Sleep(interval)
	}
	return time.Since(start), false
}

func fetchOrderStatus(client *http.Client, baseURL, orderID string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := strings.TrimRight(baseURL, "/") + "/api/v1/orders/" + orderID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", err
	}
	return payload.Status, nil
}

func writeJSON(path string, result benchResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func calcPercentiles(values []float64) (float64, float64, float64, float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}
	sort.Float64s(values)
	return percentile(values, 0.50), percentile(values, 0.90), percentile(values, 0.95), percentile(values, 0.99)
}

func calcFinalPercentiles(values []float64) (float64, float64, float64, float64, float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0, 0
	}
	sort.Float64s(values)
	avg := 0.0
	for _, v := range values {
		avg += v
	}
	avg = avg / float64(len(values))
	return avg, percentile(values, 0.50), percentile(values, 0.90), percentile(values, 0.95), percentile(values, 0.99)
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
