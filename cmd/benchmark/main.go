// Benchmark replays a labeled transaction dataset against a running
// Kestrel instance and scores the verdicts against the labels.
//
// Usage:
//
//	go run cmd/benchmark/main.go -csv /path/to/transactions.csv -url http://localhost:8080
//
// The CSV needs an is_fraud column ("1" marks fraud); the remaining columns
// are matched to the evaluate request by header name.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledTransaction is one dataset row: an evaluate request plus its
// ground-truth label.
type LabeledTransaction struct {
	AccountID        string
	Amount           float64
	Currency         string
	Timestamp        time.Time
	Location         string
	CardType         string
	Category         string
	AuthMethod       string
	PreviousTxCount  int
	DistanceKM       float64
	MinutesSinceLast float64
	Velocity         float64
	IsFraud          bool
}

// EvaluateRequest mirrors the API's evaluate request body.
type EvaluateRequest struct {
	AccountID        string    `json:"accountId"`
	Amount           float64   `json:"amount"`
	Currency         string    `json:"currency"`
	Timestamp        time.Time `json:"timestamp"`
	Location         string    `json:"location,omitempty"`
	CardType         string    `json:"cardType,omitempty"`
	Category         string    `json:"category,omitempty"`
	AuthMethod       string    `json:"authMethod,omitempty"`
	PreviousTxCount  *int      `json:"previousTxCount,omitempty"`
	DistanceKM       *float64  `json:"distanceKm,omitempty"`
	MinutesSinceLast *float64  `json:"minutesSinceLast,omitempty"`
	Velocity         *float64  `json:"velocity,omitempty"`
}

// EvaluateResponse carries the verdict fields the benchmark scores.
type EvaluateResponse struct {
	ID             string   `json:"id"`
	IsFraud        bool     `json:"isFraud"`
	CombinedScore  float64  `json:"combinedScore"`
	RiskLevel      string   `json:"riskLevel"`
	Recommendation string   `json:"recommendation"`
	TriggeredRules []string `json:"triggeredRules"`
}

// Metrics accumulates the confusion matrix and timing across workers.
type Metrics struct {
	truePos  atomic.Int64
	falsePos atomic.Int64
	trueNeg  atomic.Int64
	falseNeg atomic.Int64

	processed atomic.Int64
	fraud     atomic.Int64
	clean     atomic.Int64
	errors    atomic.Int64

	latencyMs atomic.Int64
}

// record classifies one verdict against its label.
func (m *Metrics) record(predicted, actual bool, elapsedMs int64) {
	m.processed.Add(1)
	m.latencyMs.Add(elapsedMs)

	if actual {
		m.fraud.Add(1)
	} else {
		m.clean.Add(1)
	}

	switch {
	case predicted && actual:
		m.truePos.Add(1)
	case predicted && !actual:
		m.falsePos.Add(1)
	case !predicted && actual:
		m.falseNeg.Add(1)
	default:
		m.trueNeg.Add(1)
	}
}

func (m *Metrics) fail() {
	m.processed.Add(1)
	m.errors.Add(1)
}

func main() {
	csvPath := flag.String("csv", "", "Path to labeled transaction CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum transactions to replay (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudOnly := flag.Bool("fraud-only", false, "Replay only the fraud rows")
	verbose := flag.Bool("verbose", false, "Print each verdict")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/transactions.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("=== Kestrel benchmark ===")
	fmt.Printf("dataset: %s\n", *csvPath)
	fmt.Printf("target:  %s (tenant %s)\n", *baseURL, *tenantID)
	fmt.Printf("workers: %d, limit: %d, fraud-only: %v\n\n", *workers, *limit, *fraudOnly)

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nStart it first:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ target is healthy")

	dataset, err := loadDataset(*csvPath, *limit, *fraudOnly)
	if err != nil {
		fmt.Printf("ERROR: failed to read dataset: %v\n", err)
		os.Exit(1)
	}

	labeled := 0
	for _, tx := range dataset {
		if tx.IsFraud {
			labeled++
		}
	}
	fmt.Printf("✓ loaded %d rows (%d fraud, %d clean)\n\n", len(dataset), labeled, len(dataset)-labeled)

	started := time.Now()
	metrics := replay(dataset, *baseURL, *tenantID, *workers, *verbose)
	report(metrics, time.Since(started))
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// loadDataset reads the CSV, resolving columns by header name so column
// order does not matter. Malformed rows are skipped.
func loadDataset(path string, limit int, fraudOnly bool) ([]LabeledTransaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	field := func(row []string, name string) string {
		if i, ok := columns[name]; ok && i < len(row) {
			return row[i]
		}
		return ""
	}

	var dataset []LabeledTransaction
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}

		isFraud := field(row, "is_fraud") == "1"
		if fraudOnly && !isFraud {
			continue
		}

		amount, _ := strconv.ParseFloat(field(row, "amount"), 64)
		prevCount, _ := strconv.Atoi(field(row, "previous_tx_count"))
		distance, _ := strconv.ParseFloat(field(row, "distance_km"), 64)
		minutes, _ := strconv.ParseFloat(field(row, "minutes_since_last"), 64)
		velocity, _ := strconv.ParseFloat(field(row, "velocity"), 64)

		timestamp := time.Now().UTC()
		if raw := field(row, "timestamp"); raw != "" {
			if ts, err := time.Parse(time.RFC3339, raw); err == nil {
				timestamp = ts
			}
		}

		currency := field(row, "currency")
		if currency == "" {
			currency = "USD"
		}

		tx := LabeledTransaction{
			AccountID:        field(row, "account_id"),
			Amount:           amount,
			Currency:         currency,
			Timestamp:        timestamp,
			Location:         field(row, "location"),
			CardType:         field(row, "card_type"),
			Category:         field(row, "category"),
			AuthMethod:       field(row, "auth_method"),
			PreviousTxCount:  prevCount,
			DistanceKM:       distance,
			MinutesSinceLast: minutes,
			Velocity:         velocity,
			IsFraud:          isFraud,
		}
		if tx.AccountID == "" {
			tx.AccountID = fmt.Sprintf("bench-%d", len(dataset))
		}

		dataset = append(dataset, tx)
		if limit > 0 && len(dataset) >= limit {
			break
		}
	}
	return dataset, nil
}

// replay pushes the dataset through a worker pool, each worker posting
// rows to /evaluate with its own HTTP client.
func replay(dataset []LabeledTransaction, baseURL, tenantID string, workers int, verbose bool) *Metrics {
	metrics := &Metrics{}
	feed := make(chan LabeledTransaction, 100)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}
			for tx := range feed {
				started := time.Now()
				verdict, err := postEvaluate(client, baseURL, tenantID, tx)
				if err != nil {
					metrics.fail()
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", tx.AccountID, err)
					}
					continue
				}

				metrics.record(verdict.IsFraud, tx.IsFraud, time.Since(started).Milliseconds())
				if verbose {
					mark := "✓"
					if verdict.IsFraud != tx.IsFraud {
						mark = "✗"
					}
					fmt.Printf("%s %-12s | amount %12.2f | label %-5v | verdict %-6s (%.2f) | rules %d\n",
						mark, tx.AccountID, tx.Amount, tx.IsFraud,
						verdict.RiskLevel, verdict.CombinedScore, len(verdict.TriggeredRules))
				}
			}
		}()
	}

	for _, tx := range dataset {
		feed <- tx
	}
	close(feed)
	wg.Wait()
	return metrics
}

func postEvaluate(client *http.Client, baseURL, tenantID string, tx LabeledTransaction) (*EvaluateResponse, error) {
	body, err := json.Marshal(EvaluateRequest{
		AccountID:        tx.AccountID,
		Amount:           tx.Amount,
		Currency:         tx.Currency,
		Timestamp:        tx.Timestamp,
		Location:         tx.Location,
		CardType:         tx.CardType,
		Category:         tx.Category,
		AuthMethod:       tx.AuthMethod,
		PreviousTxCount:  &tx.PreviousTxCount,
		DistanceKM:       &tx.DistanceKM,
		MinutesSinceLast: &tx.MinutesSinceLast,
		Velocity:         &tx.Velocity,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var verdict EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, err
	}
	return &verdict, nil
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func report(m *Metrics, elapsed time.Duration) {
	tp, fp := m.truePos.Load(), m.falsePos.Load()
	tn, fn := m.trueNeg.Load(), m.falseNeg.Load()

	fmt.Println("\n=== results ===")
	fmt.Printf("processed %d rows (%d fraud, %d clean, %d errors)\n",
		m.processed.Load(), m.fraud.Load(), m.clean.Load(), m.errors.Load())

	fmt.Println("\nconfusion matrix (rows = actual, cols = predicted):")
	fmt.Printf("            fraud     clean\n")
	fmt.Printf("  fraud  %8d  %8d\n", tp, fn)
	fmt.Printf("  clean  %8d  %8d\n", fp, tn)

	precision := ratio(tp, tp+fp)
	recall := ratio(tp, tp+fn)
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	accuracy := ratio(tp+tn, tp+tn+fp+fn)

	fmt.Println("\ndetection:")
	fmt.Printf("  precision %.4f | recall %.4f | f1 %.4f | accuracy %.4f\n",
		precision, recall, f1, accuracy)
	if m.fraud.Load() > 0 {
		fmt.Printf("  caught %d of %d fraud (missed %d)\n", tp, m.fraud.Load(), fn)
	}
	if m.clean.Load() > 0 {
		fmt.Printf("  false alarms: %d of %d clean (%.2f%%)\n",
			fp, m.clean.Load(), 100*ratio(fp, m.clean.Load()))
	}

	fmt.Println("\nperformance:")
	fmt.Printf("  wall time %v\n", elapsed.Round(time.Millisecond))
	if n := m.processed.Load(); n > 0 {
		fmt.Printf("  avg latency %.2f ms, throughput %.2f tx/sec\n",
			float64(m.latencyMs.Load())/float64(n), float64(n)/elapsed.Seconds())
	}

	fmt.Println("\nreading the numbers:")
	switch {
	case recall >= 0.9:
		fmt.Println("  recall is strong; most fraud in the dataset is caught")
	case recall >= 0.6:
		fmt.Println("  recall is moderate; a meaningful share of fraud slips through")
	default:
		fmt.Println("  recall is weak; most fraud is being missed")
	}
	switch {
	case precision >= 0.5:
		fmt.Println("  precision is usable; flagged transactions are mostly real fraud")
	case precision >= 0.2:
		fmt.Println("  precision is low; expect many false alarms")
	default:
		fmt.Println("  precision is very low; alerts are mostly noise")
	}
	fmt.Println()
}
