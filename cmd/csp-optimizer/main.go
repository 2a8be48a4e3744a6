package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/contactkeval/csp-optimizer/internal/engine"
	"github.com/contactkeval/csp-optimizer/internal/logger"
	"github.com/contactkeval/csp-optimizer/internal/marketdata"
	"github.com/contactkeval/csp-optimizer/internal/report"
)

var (
	configPath string
	dataDir    string
	verbosity  int
	restMode   bool
	listenAddr string
)

var rootCmd = &cobra.Command{
	Use:   "csp-optimizer",
	Short: "Screen cash-secured puts and optimize a capital allocation across instruments",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "config.json", "path to JSON config")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "directory of captured chain CSV files")
	rootCmd.Flags().IntVar(&verbosity, "verbosity", -1, "0=errors 1=info 2=debug 3=trace (overrides config)")
	rootCmd.Flags().BoolVar(&restMode, "rest", false, "run as REST server (accept optimization jobs)")
	rootCmd.Flags().StringVar(&listenAddr, "addr", ":8080", "REST server listen address")
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Debugf("no .env file loaded: %v", err)
	}

	cfgData, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	var cfg engine.Config
	if err := json.Unmarshal(cfgData, &cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if verbosity >= 0 {
		cfg.Verbosity = verbosity
	}
	logger.SetVerbosity(cfg.Verbosity)

	eng := engine.NewEngine(&cfg, chooseProvider(&cfg))

	if restMode {
		return serve(eng, listenAddr)
	}

	start := time.Now()
	res, err := eng.Run(time.Now().UTC())
	if err != nil {
		return fmt.Errorf("optimization failed: %w", err)
	}

	if cfg.ReportDir == "" {
		cfg.ReportDir = "./out"
	}
	if err := os.MkdirAll(cfg.ReportDir, 0755); err != nil {
		log.Warnf("could not create report dir %s: %v", cfg.ReportDir, err)
	}
	if err := report.WriteJSON(res, cfg.ReportDir); err != nil {
		log.Warnf("writing JSON report: %v", err)
	}
	if err := report.WriteCSV(res, cfg.ReportDir); err != nil {
		log.Warnf("writing CSV report: %v", err)
	}

	fmt.Print(res.Summary)
	log.Infof("finished in %v, report written to %s", time.Since(start), cfg.ReportDir)
	return nil
}

// chooseProvider picks the chain source: captured CSV files when a data
// dir is set, Polygon when an API key is present, synthetic otherwise.
// The synthetic provider always backs the others as a fallback.
func chooseProvider(cfg *engine.Config) marketdata.Provider {
	synth := marketdata.NewSyntheticProvider(cfg.Seed)

	if cfg.DataDir != "" {
		log.Infof("file provider enabled (dir=%s)", cfg.DataDir)
		return marketdata.NewFileProvider(cfg.DataDir, synth)
	}
	if apiKey := os.Getenv("POLYGON_API_KEY"); apiKey != "" {
		log.Infof("polygon provider enabled")
		return marketdata.NewPolygonProvider(apiKey, synth)
	}
	log.Infof("synthetic provider enabled")
	return synth
}

func serve(eng *engine.Engine, addr string) error {
	router := mux.NewRouter()
	router.HandleFunc("/run", func(w http.ResponseWriter, r *http.Request) {
		log.Infof("received /run request")
		res, err := eng.Run(time.Now().UTC())
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(res)
	})
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	log.Infof("starting REST server on %s", addr)
	return http.ListenAndServe(addr, router)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
