// Command loadtest drives a self-contained AIPerf run against either a
// user-supplied inference endpoint or a tiny built-in echo server, then
// prints a percentile report. It exists to exercise a full run (dataset,
// timing, worker, parser, records) end to end without a real GPU server on
// hand, the Go analogue of the gRPC concurrency hammer this module's
// predecessor shipped as a script.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/aiperf/aiperf-go/pkg/config"
	"github.com/aiperf/aiperf-go/pkg/model"
)

func main() {
	concurrency := flag.Int("concurrency", 8, "number of concurrent workers")
	parsers := flag.Int("parsers", 1, "number of inference-parser replicas")
	duration := flag.Duration("duration", 15*time.Second, "benchmark duration")
	conversations := flag.Int("conversations", 50, "number of synthetic conversations to generate")
	endpoint := flag.String("endpoint", "", "base URL of a chat-completions endpoint; starts a local echo server when empty")
	modelName := flag.String("model", "loadtest-model", "model name sent in each request")
	artifactDir := flag.String("artifact-dir", "", "directory for profile_export_aiperf.json (defaults to a temp dir)")
	controllerBin := flag.String("controller-bin", envStr("CONTROLLER_BIN", "./bin/controller"), "path to the controller binary")
	flag.Parse()

	workDir, err := os.MkdirTemp("", "aiperf-loadtest-*")
	if err != nil {
		fatal("failed to create scratch directory: %v", err)
	}
	defer os.RemoveAll(workDir)

	if *artifactDir == "" {
		*artifactDir = workDir
	}
	if err := os.MkdirAll(*artifactDir, 0o755); err != nil {
		fatal("failed to create artifact directory: %v", err)
	}

	baseURL := *endpoint
	if baseURL == "" {
		srv, addr := startEchoServer()
		defer srv.Close()
		baseURL = addr
		fmt.Printf("loadtest: no -endpoint given, echoing locally at %s\n", baseURL)
	}

	datasetPath := filepath.Join(workDir, "dataset.json")
	if err := writeSyntheticDataset(datasetPath, *conversations, *modelName); err != nil {
		fatal("failed to write synthetic dataset: %v", err)
	}

	userConfig := config.UserConfig{
		Endpoint: model.ModelEndpointInfo{
			BaseURL:        baseURL,
			Type:           model.EndpointChatCompletions,
			TimeoutSeconds: 30,
			Models:         []string{*modelName},
		},
		Sampling:    config.SampleRandom,
		RandomSeed:  1,
		WorkerCount: *concurrency,
		ParserCount: *parsers,
		ArtifactDir: *artifactDir,
		DatasetPath: datasetPath,
		Load: config.LoadProfile{
			Mode:              config.TimingConcurrencyBurst,
			Concurrency:       *concurrency,
			BenchmarkDuration: duration.Seconds(),
		},
	}
	userConfigPath := filepath.Join(workDir, "user_config.json")
	if err := writeJSON(userConfigPath, userConfig); err != nil {
		fatal("failed to write run configuration: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("loadtest: launching controller (concurrency=%d, duration=%v, conversations=%d)\n", *concurrency, *duration, *conversations)
	start := time.Now()
	cmd := exec.CommandContext(ctx, *controllerBin, userConfigPath)
	cmd.Env = append(os.Environ(), "USER_CONFIG_PATH="+userConfigPath)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		fatal("controller run failed: %v", err)
	}
	elapsed := time.Since(start)

	results, err := readProfileResults(filepath.Join(*artifactDir, "profile_export_aiperf.json"))
	if err != nil {
		fatal("failed to read profile export: %v", err)
	}
	printReport(results, elapsed, *concurrency)
}

func startEchoServer() (*http.Server, string) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		fatal("failed to start echo server: %v", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "synthetic response"}},
			},
		})
	})
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	return srv, "http://" + ln.Addr().String()
}

func writeSyntheticDataset(path string, count int, modelName string) error {
	conversations := make([]model.Conversation, count)
	for i := range conversations {
		conversations[i] = model.Conversation{
			SessionID: fmt.Sprintf("loadtest-session-%d", i),
			Turns: []model.Turn{{
				Model: modelName,
				Texts: []model.Text{{Contents: []string{"describe the weather in one sentence"}}},
			}},
		}
	}
	return writeJSON(path, conversations)
}

func readProfileResults(path string) (model.ProfileResults, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return model.ProfileResults{}, err
	}
	var results model.ProfileResults
	if err := json.Unmarshal(b, &results); err != nil {
		return model.ProfileResults{}, err
	}
	return results, nil
}

func printReport(results model.ProfileResults, wallClock time.Duration, concurrency int) {
	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════")
	fmt.Println("   LOAD TEST RESULTS")
	fmt.Println("═══════════════════════════════════════════════════")
	fmt.Printf("   Wall clock:    %v\n", wallClock.Round(time.Millisecond))
	fmt.Printf("   Concurrency:   %d\n", concurrency)
	fmt.Printf("   Cancelled:     %v\n", results.WasCancelled)

	totalErrors := 0
	for _, e := range results.Errors {
		totalErrors += e.Count
	}
	fmt.Printf("   Errors:        %d\n", totalErrors)
	fmt.Println()

	tags := make([]string, 0, len(results.Metrics))
	byTag := make(map[string]model.MetricResult, len(results.Metrics))
	for _, m := range results.Metrics {
		tags = append(tags, m.Tag)
		byTag[m.Tag] = m
	}
	sort.Strings(tags)

	fmt.Println("   Metrics:")
	for _, tag := range tags {
		m := byTag[tag]
		fmt.Printf("      %-28s n=%-6d avg=%-10.2f p50=%-10.2f p90=%-10.2f p99=%-10.2f unit=%s\n",
			m.Header, m.Count, m.Avg, m.P50, m.P90, m.P99, m.Unit)
	}
	fmt.Println("═══════════════════════════════════════════════════")
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "loadtest: "+format+"\n", args...)
	os.Exit(1)
}
