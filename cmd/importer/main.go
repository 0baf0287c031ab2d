// Command importer books an .xlsx stock sheet into one store, or writes an
// empty template with -template.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"dukani/backend/internal/config"
	"dukani/backend/internal/importer"
	"dukani/backend/internal/service"
	"dukani/backend/internal/store/backend"
)

func main() {
	storeID := flag.Int64("store", 0, "store id to receive the stock")
	file := flag.String("file", "", "path of the .xlsx sheet to import")
	template := flag.String("template", "", "write an empty import template to this path and exit")
	flag.Parse()

	cfg := config.Load()
	logger := cfg.NewLogger(os.Stderr)

	if err := run(cfg, logger, *storeID, *file, *template, os.Stdout); err != nil {
		logger.WithError(err).Fatal("import failed")
	}
}

func run(cfg config.Config, logger logrus.FieldLogger, storeID int64, file string, template string, out io.Writer) error {
	if template != "" {
		f, err := os.Create(template)
		if err != nil {
			return err
		}
		if err := importer.Template(f); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	}
	if storeID <= 0 || file == "" {
		return fmt.Errorf("-store and -file are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	repo, err := backend.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	sheet, err := os.Open(file)
	if err != nil {
		return err
	}
	defer sheet.Close()

	svc := service.New(repo, service.Options{Logger: logger, MaxAttempts: cfg.SaleMaxAttempts})
	report, err := importer.New(svc, logger).Import(ctx, storeID, sheet)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
