// Benchmark tool for driving Kestrel with labeled loan applications.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/applications.csv -url http://localhost:8080
//   go run cmd/benchmark/main.go -synthetic 10000 -url http://localhost:8080
//
// This tool:
//   1. Reads application data (optionally with expected outcome labels)
//   2. Sends each application to Kestrel's /evaluate endpoint
//   3. Compares Kestrel's outcome with the labels when present
//   4. Reports outcome distribution, agreement, latency, and throughput
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Application is one row of input, with an optional expected label.
type Application struct {
	Amount          int64
	TermMonths      int64
	ProductType     string
	CreditScore     *int64
	IncomeMonthly   int64
	DebtToIncome    int64
	ExistingLoans   int64
	PriorDefaults   int64
	HasCollateral   bool
	ApplicantAge    int64
	EmploymentType  string
	ResidencyStatus string

	Expected string // APPROVE, REJECT, MANUAL_REVIEW, or "" when unlabeled
}

// EvaluateRequest is the Kestrel API request format.
type EvaluateRequest struct {
	Amount          int64  `json:"amount"`
	TermMonths      int64  `json:"termMonths"`
	ProductType     string `json:"productType"`
	CreditScore     *int64 `json:"creditScore,omitempty"`
	IncomeMonthly   int64  `json:"incomeMonthly"`
	DebtToIncome    int64  `json:"debtToIncome"`
	ExistingLoans   int64  `json:"existingLoans"`
	PriorDefaults   int64  `json:"priorDefaults"`
	HasCollateral   bool   `json:"hasCollateral"`
	ApplicantAge    int64  `json:"applicantAge"`
	EmploymentType  string `json:"employmentType"`
	ResidencyStatus string `json:"residencyStatus"`
}

// EvaluateResponse is the Kestrel API response format.
type EvaluateResponse struct {
	DecisionID string   `json:"decisionId"`
	Outcome    string   `json:"outcome"`
	Score      int      `json:"score"`
	Reasons    []string `json:"reasons"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	Approved     int64
	Rejected     int64
	ManualReview int64

	Agreed    int64
	Disagreed int64

	TotalProcessed int64
	TotalErrors    int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) recordLatency(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

func main() {
	csvPath := flag.String("csv", "", "Path to labeled applications CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	synthetic := flag.Int("synthetic", 0, "Generate N synthetic applications instead of reading a CSV")
	limit := flag.Int("limit", 0, "Maximum applications to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each application result")
	flag.Parse()

	if *csvPath == "" && *synthetic == 0 {
		fmt.Println("Usage: benchmark -csv /path/to/applications.csv | -synthetic 10000")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            KESTREL BENCHMARK - Loan Decisioning               ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	var apps []Application
	var err error
	if *csvPath != "" {
		fmt.Printf("\nReading applications from %s...\n", *csvPath)
		apps, err = readApplicationsCSV(*csvPath, *limit)
		if err != nil {
			fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
			os.Exit(1)
		}
	} else {
		fmt.Printf("\nGenerating %d synthetic applications...\n", *synthetic)
		apps = generateSynthetic(*synthetic)
	}
	fmt.Printf("✓ Loaded %d applications\n", len(apps))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(apps, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
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

// readApplicationsCSV expects a header row with at least: amount,
// termMonths, productType. Remaining vocabulary columns and an
// "expected" label column are optional.
func readApplicationsCSV(path string, limit int) ([]Application, error) {
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

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	intCol := func(record []string, name string) int64 {
		idx, ok := colIndex[name]
		if !ok || idx >= len(record) {
			return 0
		}
		v, _ := strconv.ParseInt(strings.TrimSpace(record[idx]), 10, 64)
		return v
	}
	strCol := func(record []string, name string) string {
		idx, ok := colIndex[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var apps []Application
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		app := Application{
			Amount:          intCol(record, "amount"),
			TermMonths:      intCol(record, "termmonths"),
			ProductType:     strCol(record, "producttype"),
			IncomeMonthly:   intCol(record, "incomemonthly"),
			DebtToIncome:    intCol(record, "debttoincome"),
			ExistingLoans:   intCol(record, "existingloans"),
			PriorDefaults:   intCol(record, "priordefaults"),
			HasCollateral:   strCol(record, "hascollateral") == "true",
			ApplicantAge:    intCol(record, "applicantage"),
			EmploymentType:  strCol(record, "employmenttype"),
			ResidencyStatus: strCol(record, "residencystatus"),
			Expected:        strings.ToUpper(strCol(record, "expected")),
		}

		// Empty score column means no bureau score for this applicant.
		if raw := strCol(record, "creditscore"); raw != "" {
			if score, err := strconv.ParseInt(raw, 10, 64); err == nil {
				app.CreditScore = &score
			}
		}

		apps = append(apps, app)
		if limit > 0 && len(apps) >= limit {
			break
		}
	}

	return apps, nil
}

var (
	productTypes    = []string{"PERSONAL", "AUTO", "MORTGAGE", "BUSINESS"}
	employmentTypes = []string{"FULL_TIME", "PART_TIME", "SELF_EMPLOYED", "CONTRACT", "RETIRED", "UNEMPLOYED"}
	residencies     = []string{"CITIZEN", "PERMANENT_RESIDENT", "VISA", "OTHER"}
)

func generateSynthetic(n int) []Application {
	rng := rand.New(rand.NewSource(42))
	apps := make([]Application, 0, n)
	for i := 0; i < n; i++ {
		app := Application{
			Amount:          1000 + rng.Int63n(200000),
			TermMonths:      6 + rng.Int63n(354),
			ProductType:     productTypes[rng.Intn(len(productTypes))],
			IncomeMonthly:   1500 + rng.Int63n(20000),
			DebtToIncome:    rng.Int63n(80),
			ExistingLoans:   rng.Int63n(6),
			PriorDefaults:   rng.Int63n(3),
			HasCollateral:   rng.Intn(2) == 0,
			ApplicantAge:    18 + rng.Int63n(60),
			EmploymentType:  employmentTypes[rng.Intn(len(employmentTypes))],
			ResidencyStatus: residencies[rng.Intn(len(residencies))],
		}
		// Roughly 1 in 20 applicants is thin-file with no score.
		if rng.Intn(20) != 0 {
			score := 350 + rng.Int63n(500)
			app.CreditScore = &score
		}
		apps = append(apps, app)
	}
	return apps
}

func runBenchmark(apps []Application, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan Application, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for app := range work {
				start := time.Now()
				result, err := evaluateApplication(client, baseURL, app)
				elapsed := time.Since(start)

				atomic.AddInt64(&metrics.TotalProcessed, 1)
				metrics.recordLatency(elapsed)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: amount=%d -> %v\n", app.Amount, err)
					}
					continue
				}

				switch result.Outcome {
				case "APPROVE":
					atomic.AddInt64(&metrics.Approved, 1)
				case "REJECT":
					atomic.AddInt64(&metrics.Rejected, 1)
				default:
					atomic.AddInt64(&metrics.ManualReview, 1)
				}

				if app.Expected != "" {
					if app.Expected == result.Outcome {
						atomic.AddInt64(&metrics.Agreed, 1)
					} else {
						atomic.AddInt64(&metrics.Disagreed, 1)
					}
				}

				if verbose {
					status := " "
					if app.Expected != "" && app.Expected != result.Outcome {
						status = "✗"
					}
					fmt.Printf("%s amount=%-8d product=%-8s score=%4d -> %-13s (%d) %s\n",
						status, app.Amount, app.ProductType,
						result.Score, result.Outcome, result.Score,
						strings.Join(result.Reasons, "; "),
					)
				}
			}
		}()
	}

	for _, app := range apps {
		work <- app
	}
	close(work)

	wg.Wait()

	return metrics
}

func evaluateApplication(client *http.Client, baseURL string, app Application) (*EvaluateResponse, error) {
	req := EvaluateRequest{
		Amount:          app.Amount,
		TermMonths:      app.TermMonths,
		ProductType:     app.ProductType,
		CreditScore:     app.CreditScore,
		IncomeMonthly:   app.IncomeMonthly,
		DebtToIncome:    app.DebtToIncome,
		ExistingLoans:   app.ExistingLoans,
		PriorDefaults:   app.PriorDefaults,
		HasCollateral:   app.HasCollateral,
		ApplicantAge:    app.ApplicantAge,
		EmploymentType:  app.EmploymentType,
		ResidencyStatus: app.ResidencyStatus,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 OUTCOME DISTRIBUTION\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Approved:         %d\n", m.Approved)
	fmt.Printf("   Rejected:         %d\n", m.Rejected)
	fmt.Printf("   Manual Review:    %d\n", m.ManualReview)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	if m.Agreed+m.Disagreed > 0 {
		agreement := float64(m.Agreed) / float64(m.Agreed+m.Disagreed)
		fmt.Printf("\n🎯 LABEL AGREEMENT\n")
		fmt.Printf("   Agreed:     %d\n", m.Agreed)
		fmt.Printf("   Disagreed:  %d\n", m.Disagreed)
		fmt.Printf("   Agreement:  %.4f\n", agreement)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		sorted := make([]time.Duration, len(m.latencies))
		copy(sorted, m.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Throughput:       %.2f app/sec\n", tps)
		fmt.Printf("   p50 Latency:      %v\n", percentile(sorted, 0.50).Round(time.Microsecond))
		fmt.Printf("   p95 Latency:      %v\n", percentile(sorted, 0.95).Round(time.Microsecond))
		fmt.Printf("   p99 Latency:      %v\n", percentile(sorted, 0.99).Round(time.Microsecond))
	}

	fmt.Println()
}
