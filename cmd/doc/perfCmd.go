package doc

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/rpc/common"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dDoc servers",
		Long:    "Runs insert, find-one, find, update, delete and a mixed workload against a scratch collection and reports latency and throughput per workload. The scratch collection is emptied before and after the run.",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfCollection = "__perf"
	perfNumThreads = 10
	perfOps        = 1000
	perfDocSpread  = 100
	perfSkip       = make([]string, 0)

	// perfTests lists the workloads in execution order
	perfTests = []string{"insert", "find-one", "find", "update", "delete", "mixed"}
)

// perfResult holds the measurements of one workload
type perfResult struct {
	timer   gometrics.Timer
	errors  int64
	elapsed time.Duration
	skipped bool
}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Workloads to skip (comma separated - e.g. find,update)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of concurrent workers"))
	key = "ops"
	perfTestCmd.Flags().Int(key, 1000, util.WrapString("Number of operations per workload"))
	key = "docs"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many distinct documents the read and update workloads address"))
	key = "collection"
	perfTestCmd.Flags().String(key, "__perf", util.WrapString("Scratch collection used by the benchmark. It is emptied before and after the run"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfOps = max(viper.GetInt("ops"), 1)
	perfDocSpread = max(viper.GetInt("docs"), 1)
	perfCollection = viper.GetString("collection")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for dDoc servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d, Ops per workload: %d, Documents: %d\n", perfNumThreads, perfOps, perfDocSpread)
	fmt.Println()

	if err := resetCollection(); err != nil {
		return err
	}
	defer func() {
		if err := resetCollection(); err != nil {
			log.Printf("failed to clean up collection %s: %v\n", perfCollection, err)
		}
	}()

	fmt.Println("starting tests...")

	registry := gometrics.NewRegistry()
	results := make(map[string]*perfResult)

	workloads := map[string]func(i int) error{
		"insert": func(i int) error {
			_, err := rpcStore.Insert(perfCollection, perfDocument(i))
			return err
		},
		"find-one": func(i int) error {
			_, _, err := rpcStore.FindOne(perfCollection, slotQuery(i))
			return err
		},
		"find": func(i int) error {
			_, err := rpcStore.Find(perfCollection, rangeQuery(i))
			return err
		},
		"update": func(i int) error {
			patch := document.NewObject()
			patch.Set("updated", document.Int(int64(i)))
			_, err := rpcStore.Update(perfCollection, slotQuery(i), patch)
			return err
		},
		"delete": func(i int) error {
			// every delete is paired with an insert so the collection does not run dry
			if _, err := rpcStore.Delete(perfCollection, slotQuery(i)); err != nil {
				return err
			}
			_, err := rpcStore.Insert(perfCollection, perfDocument(i))
			return err
		},
		"mixed": func(i int) error {
			var err error
			switch i % 4 {
			case 0:
				_, err = rpcStore.Insert(perfCollection, perfDocument(i))
			case 1:
				_, _, err = rpcStore.FindOne(perfCollection, slotQuery(i))
			case 2:
				patch := document.NewObject()
				patch.Set("mixed", document.Bool(true))
				_, err = rpcStore.Update(perfCollection, slotQuery(i), patch)
			case 3:
				_, err = rpcStore.Find(perfCollection, rangeQuery(i))
			}
			return err
		},
	}

	// seed the documents the read workloads address
	for i := 0; i < perfDocSpread; i++ {
		if _, err := rpcStore.Insert(perfCollection, perfDocument(i)); err != nil {
			return fmt.Errorf("failed to seed collection: %w", err)
		}
	}

	for _, test := range perfTests {
		if shouldSkip(test) {
			results[test] = &perfResult{skipped: true}
			printResult(test, results[test])
			continue
		}
		timer := gometrics.GetOrRegisterTimer(test, registry)
		results[test] = runWorkload(test, timer, workloads[test])
		printResult(test, results[test])
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// runWorkload spreads perfOps calls of op over perfNumThreads workers and records the
// latency of every call in timer.
func runWorkload(name string, timer gometrics.Timer, op func(i int) error) *perfResult {
	result := &perfResult{timer: timer}

	var next atomic.Int64
	var errCount atomic.Int64
	var wg sync.WaitGroup

	start := time.Now()
	for w := 0; w < perfNumThreads; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1)) - 1
				if i >= perfOps {
					return
				}
				opStart := time.Now()
				err := op(i)
				timer.UpdateSince(opStart)
				if err != nil {
					if errCount.Add(1) == 1 {
						log.Printf("(%s) - error performing operation: %v\n", name, err)
					}
				}
			}
		}()
	}
	wg.Wait()

	result.elapsed = time.Since(start)
	result.errors = errCount.Load()
	return result
}

func resetCollection() error {
	if _, err := rpcStore.Delete(perfCollection, document.NewObject()); err != nil {
		return fmt.Errorf("failed to empty collection %s: %w", perfCollection, err)
	}
	return nil
}

func perfDocument(i int) *document.Object {
	doc := document.NewObject()
	doc.Set("slot", document.Int(int64(i%perfDocSpread)))
	doc.Set("title", document.String(fmt.Sprintf("document %d", i)))
	doc.Set("tags", document.Array(document.String("perf"), document.String(strconv.Itoa(i%7))))
	return doc
}

func slotQuery(i int) *document.Object {
	q := document.NewObject()
	q.Set("slot", document.Int(int64(i%perfDocSpread)))
	return q
}

// rangeQuery matches between one and ten of the lowest slots
func rangeQuery(i int) *document.Object {
	bound := document.NewObject()
	bound.Set("$lt", document.Int(int64(i%10+1)))
	q := document.NewObject()
	q.Set("slot", document.ObjectValue(bound))
	return q
}

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// printResult prints the result of a workload in a formatted way
func printResult(test string, result *perfResult) {
	if result.skipped {
		fmt.Printf("%-12sskipped\n", test)
		return
	}

	t := result.timer.Snapshot()
	ps := t.Percentiles([]float64{0.5, 0.99})
	fmt.Printf("%-12scount=%d errors=%d mean=%s p50=%s p99=%s max=%s\t%.0f ops/sec\n",
		test,
		t.Count(),
		result.errors,
		time.Duration(t.Mean()),
		time.Duration(ps[0]),
		time.Duration(ps[1]),
		time.Duration(t.Max()),
		opsPerSecond(t.Count(), result.elapsed),
	)
}

func opsPerSecond(count int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(count) / elapsed.Seconds()
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]*perfResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "Count", "Errors", "MeanNs", "P50Ns", "P99Ns", "MaxNs", "OpsPerSec", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint", "Transport",
		"Threads", "Documents",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for _, test := range perfTests {
		result, ok := results[test]
		if !ok {
			continue
		}

		row := []string{test}
		if result.skipped {
			row = append(row, "0", "0", "0", "0", "0", "0", "0", "true")
		} else {
			t := result.timer.Snapshot()
			ps := t.Percentiles([]float64{0.5, 0.99})
			row = append(row,
				strconv.FormatInt(t.Count(), 10),
				strconv.FormatInt(result.errors, 10),
				fmt.Sprintf("%.0f", t.Mean()),
				fmt.Sprintf("%.0f", ps[0]),
				fmt.Sprintf("%.0f", ps[1]),
				strconv.FormatInt(t.Max(), 10),
				fmt.Sprintf("%.0f", opsPerSecond(t.Count(), result.elapsed)),
				"false",
			)
		}
		row = append(row,
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			strconv.Itoa(config.ConnectionsPerEndpoint),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfDocSpread),
		)

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
