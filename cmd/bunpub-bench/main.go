package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	BaseURL     string
	Collection  string
	Concurrency int
	TotalOps    int
	ReadRatio   float64 // 0.0 to 1.0 (e.g. 0.8 for 80% reads)
}

func main() {
	baseURL := flag.String("url", "http://localhost:3002", "Gateway base URL")
	collection := flag.String("collection", "bench", "Target collection")
	concurrency := flag.Int("c", 10, "Number of concurrent workers")
	ops := flag.Int("n", 10000, "Total number of operations")
	ratio := flag.Float64("ratio", 0.5, "Read ratio (0.0=Write Only, 1.0=Read Only)")

	flag.Parse()

	cfg := Config{
		BaseURL:     *baseURL,
		Collection:  *collection,
		Concurrency: *concurrency,
		TotalOps:    *ops,
		ReadRatio:   *ratio,
	}

	fmt.Printf("🔥 Starting Bunpub Bench\n")
	fmt.Printf("   Gateway: %s\n   Collection: %s\n   Workers: %d\n   Total Ops: %d\n   Read Ratio: %.2f\n",
		cfg.BaseURL, cfg.Collection, cfg.Concurrency, cfg.TotalOps, cfg.ReadRatio)

	runBenchmark(cfg)
}

func runBenchmark(cfg Config) {
	start := time.Now()

	var wg sync.WaitGroup
	opsPerWorker := cfg.TotalOps / cfg.Concurrency

	latencies := make(chan time.Duration, cfg.TotalOps)
	errors := make(chan error, cfg.TotalOps)

	docsURL := cfg.BaseURL + "/collections/" + cfg.Collection + "/documents"

	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			// One client per worker to simulate independent users.
			cli := &http.Client{Timeout: 10 * time.Second}
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))

			// Each worker keeps the ids it wrote so reads hit real documents.
			var written []string

			for j := 0; j < opsPerWorker; j++ {
				opStart := time.Now()

				isRead := r.Float64() < cfg.ReadRatio && len(written) > 0

				if isRead {
					docID := written[r.Intn(len(written))]
					resp, err := cli.Get(docsURL + "/" + docID)
					if err != nil {
						errors <- err
					} else {
						resp.Body.Close()
						if resp.StatusCode != http.StatusOK {
							errors <- fmt.Errorf("get %s: status %d", docID, resp.StatusCode)
						}
					}
				} else {
					docID := uuid.NewString()
					body, _ := json.Marshal(map[string]interface{}{
						"id": docID,
						"fields": map[string]interface{}{
							"worker": id,
							"iter":   j,
							"data":   "some useful payload",
							"ts":     time.Now().UnixNano(),
						},
					})
					resp, err := cli.Post(docsURL, "application/json", bytes.NewReader(body))
					if err != nil {
						errors <- err
					} else {
						resp.Body.Close()
						if resp.StatusCode != http.StatusCreated {
							errors <- fmt.Errorf("insert %s: status %d", docID, resp.StatusCode)
						} else {
							written = append(written, docID)
						}
					}
				}

				latencies <- time.Since(opStart)
			}
		}(i)
	}

	wg.Wait()
	close(latencies)
	close(errors)

	duration := time.Since(start)

	var totalLatency time.Duration
	var latList []float64
	var errCount int

	for l := range latencies {
		totalLatency += l
		latList = append(latList, float64(l.Microseconds())/1000.0) // ms
	}

	for err := range errors {
		errCount++
		if errCount <= 5 {
			log.Printf("Error Sample: %v", err)
		}
	}

	opsCount := len(latList)
	throughput := float64(opsCount) / duration.Seconds()
	avgLatency := float64(totalLatency.Milliseconds()) / float64(opsCount)

	sort.Float64s(latList)
	p50 := 0.0
	p99 := 0.0
	if len(latList) > 0 {
		p50 = latList[int(float64(len(latList))*0.50)]
		p99 = latList[int(float64(len(latList))*0.99)]
	}

	fmt.Println("\n📊 Results:")
	fmt.Printf("   Duration:   %v\n", duration)
	fmt.Printf("   Throughput: %.2f ops/sec\n", throughput)
	fmt.Printf("   Avg Latency: %.2f ms\n", avgLatency)
	fmt.Printf("   P50 Latency: %.2f ms\n", p50)
	fmt.Printf("   P99 Latency: %.2f ms\n", p99)
	fmt.Printf("   Errors:     %d (%.2f%%)\n", errCount, float64(errCount)/float64(cfg.TotalOps)*100)
}
