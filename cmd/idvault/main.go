package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/inspire-id/idvault/internal/app"
	"github.com/inspire-id/idvault/internal/batch"
	"github.com/inspire-id/idvault/internal/config"
	"github.com/inspire-id/idvault/internal/crypto"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	dataDir    = flag.String("data", "", "Path to data directory")
	version    = "dev"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "genkey":
			key, err := crypto.GenerateKey()
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to generate key: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(key)
			return
		case "hash":
			if len(os.Args) < 3 {
				fmt.Fprintln(os.Stderr, "usage: idvault hash <fingerprint>")
				os.Exit(2)
			}
			fmt.Println(crypto.HashForLookup(os.Args[2]))
			return
		case "version", "--version", "-v":
			fmt.Printf("idvault version %s\n", version)
			return
		case "help", "--help", "-h":
			printHelp()
			return
		case "import":
			runImport(os.Args[2:])
			return
		case "serve":
			os.Args = append(os.Args[:1], os.Args[2:]...)
		}
	}

	flag.Parse()

	cfg, logger := loadConfig(*configPath, *dataDir)
	defer logger.Sync()

	logger.Info("Starting idvault",
		zap.String("version", version),
		zap.String("backend", cfg.Extraction.Backend),
		zap.String("storage", cfg.Storage.Driver),
	)

	application, err := app.New(cfg, logger, version)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}

	application.RunServer()
}

func loadConfig(path, dir string) (*config.Config, *zap.Logger) {
	if err := config.LoadEnvFiles(); err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}

	cfg, err := config.Load(path, dir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	return cfg, logger
}

func runImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to config file")
	dir := fs.String("data", "", "Path to data directory")
	out := fs.String("out", "", "Write per-item results to this file (.json or text)")
	concurrency := fs.Int("concurrency", batch.DefaultConfig().MaxConcurrency, "Parallel extractions")
	create := fs.Bool("create", false, "Create identities that do not exist yet")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: idvault import [-create] [-concurrency N] [-out file] <manifest>")
		os.Exit(2)
	}

	cfg, logger := loadConfig(*cfgPath, *dir)
	defer logger.Sync()

	application, err := app.New(cfg, logger, version)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer application.Close()

	bc := batch.DefaultConfig()
	bc.MaxConcurrency = *concurrency
	bc.CreateIdentities = *create
	if cfg.Extraction.Timeout > 0 {
		bc.Timeout = 2 * cfg.Extraction.Timeout
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := batch.NewProcessor(application.Vault, bc, logger.Named("batch")).ProcessFile(ctx, fs.Arg(0), *out)
	if err != nil {
		logger.Error("Import failed", zap.Error(err))
	}
	if result != nil {
		fmt.Print(result.Summary())
	}
	if err != nil || (result != nil && result.Failed > 0) {
		application.Close()
		os.Exit(1)
	}
}

// newLogger picks the zap preset: json for production, console otherwise.
func newLogger(lc config.LogConfig) (*zap.Logger, error) {
	var zc zap.Config
	if lc.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	if lc.Level != "" {
		level, err := zapcore.ParseLevel(lc.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	return zc.Build()
}

func printHelp() {
	fmt.Println("idvault - encrypted identity document vault")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  idvault [serve] [-config path] [-data dir]   Run the HTTP server")
	fmt.Println("  idvault import [-create] [-out file] <manifest>  Enrol document images in bulk")
	fmt.Println("  idvault genkey                               Print a new encryption key")
	fmt.Println("  idvault hash <fingerprint>                   Print the lookup digest of a fingerprint")
	fmt.Println("  idvault version                              Print the version")
}
