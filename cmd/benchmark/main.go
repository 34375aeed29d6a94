package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/punchamoorthee/payops/internal/webhook"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	merchants   int
	paystackKey string
	storm       int
)

// Metrics
var (
	totalRequests uint64
	success200    uint64 // Replays and webhook acks
	success201    uint64 // Created
	limited429    uint64 // Rate limited
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "init", "Workload type: init | webhook-storm")
	flag.IntVar(&merchants, "merchants", 100, "Number of seeded merchants")
	flag.StringVar(&paystackKey, "paystack-secret", "sk_test_bench", "Secret used by the seeder for Paystack credentials")
	flag.IntVar(&storm, "storm", 20, "Duplicate deliveries per reference in webhook-storm")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	var work func(client *http.Client, start time.Time)
	switch workload {
	case "init":
		work = initBurst
	case "webhook-storm":
		work = webhookStorm
	default:
		log.Fatalf("unknown workload %q", workload)
	}

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			work(&http.Client{Timeout: 10 * time.Second}, start)
		}()
	}
	wg.Wait()
	printResults(time.Since(start))
}

func randomClient() (string, string) {
	n := rand.Intn(merchants) + 1
	return fmt.Sprintf("client-%04d", n), fmt.Sprintf("secret-%04d", n)
}

func initialize(client *http.Client, clientID, secret string) (string, int) {
	body, _ := json.Marshal(map[string]interface{}{
		"amount":   rand.Int63n(1_000_000) + 100,
		"currency": "NGN",
		"email":    "bench@example.com",
		"provider": "paystack",
	})
	req, _ := http.NewRequest("POST", targetURL+"/api/v1/payments/initialize", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Id", clientID)
	req.Header.Set("X-Client-Secret", secret)

	resp, err := client.Do(req)
	if err != nil {
		return "", 0
	}
	defer resp.Body.Close()
	var out struct {
		Reference string `json:"reference"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	return out.Reference, resp.StatusCode
}

func count(status int) {
	atomic.AddUint64(&totalRequests, 1)
	switch status {
	case 201:
		atomic.AddUint64(&success201, 1)
	case 200:
		atomic.AddUint64(&success200, 1)
	case 429:
		atomic.AddUint64(&limited429, 1)
	default:
		atomic.AddUint64(&failOther, 1)
	}
}

// initBurst hammers initialization across random merchants.
func initBurst(client *http.Client, start time.Time) {
	for time.Since(start) < duration {
		id, secret := randomClient()
		_, status := initialize(client, id, secret)
		count(status)
	}
}

// webhookStorm creates one intent, then delivers the same signed success
// callback many times in parallel. Exactly one delivery should settle it.
func webhookStorm(client *http.Client, start time.Time) {
	for time.Since(start) < duration {
		id, secret := randomClient()
		ref, status := initialize(client, id, secret)
		count(status)
		if status != 201 {
			continue
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"event": "charge.success",
			"data":  map[string]interface{}{"reference": ref, "status": "success"},
		})
		sig := webhook.SignPaystack(payload, paystackKey)

		var wg sync.WaitGroup
		wg.Add(storm)
		for i := 0; i < storm; i++ {
			go func() {
				defer wg.Done()
				req, _ := http.NewRequest("POST", targetURL+"/webhooks/paystack", bytes.NewReader(payload))
				req.Header.Set("X-Paystack-Signature", sig)
				resp, err := client.Do(req)
				if err != nil {
					atomic.AddUint64(&failOther, 1)
					return
				}
				resp.Body.Close()
				count(resp.StatusCode)
			}()
		}
		wg.Wait()
	}
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	s200 := atomic.LoadUint64(&success200)
	l429 := atomic.LoadUint64(&limited429)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()

	results := map[string]interface{}{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  tps,
		"success_created": s201,
		"success_ok":      s200,
		"rate_limited":    l429,
		"errors":          fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("could not write %s: %v", filename, err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
