package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"dukani/backend/internal/config"
	"dukani/backend/internal/domain"
	"dukani/backend/internal/importer"
	"dukani/backend/internal/service"
	"dukani/backend/internal/store/backend"
)

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestRunRequiresStoreAndFile(t *testing.T) {
	if err := run(config.Config{}, quiet(), 0, "", "", io.Discard); err == nil {
		t.Fatal("expected missing flags to be rejected")
	}
}

func TestRunWritesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "template.xlsx")
	if err := run(config.Config{}, quiet(), 0, "", path, io.Discard); err != nil {
		t.Fatalf("template: %v", err)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open template: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil || len(rows) != 1 || rows[0][1] != "NAME" {
		t.Fatalf("unexpected template rows %v (%v)", rows, err)
	}
}

func TestRunImportsIntoSQLite(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{SQLitePath: filepath.Join(dir, "dukani.db")}

	repo, err := backend.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	st, err := service.New(repo, service.Options{Logger: quiet()}).CreateStore(context.Background(), domain.StoreCreateRequest{Name: "Duka", PIN: "2468"})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	book := excelize.NewFile()
	header := make([]any, len(importer.Columns))
	for i, c := range importer.Columns {
		header[i] = c
	}
	if err := book.SetSheetRow(book.GetSheetName(0), "A1", &header); err != nil {
		t.Fatalf("header: %v", err)
	}
	if err := book.SetSheetRow(book.GetSheetName(0), "A2", &[]any{"", "Tea Leaves", 8, 40}); err != nil {
		t.Fatalf("row: %v", err)
	}
	sheet := filepath.Join(dir, "stock.xlsx")
	if err := book.SaveAs(sheet); err != nil {
		t.Fatalf("save: %v", err)
	}

	var out bytes.Buffer
	if err := run(cfg, quiet(), st.ID, sheet, "", &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	var report importer.Report
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.ProductsCreated != 1 || report.UnitsReceived != 8 {
		t.Fatalf("unexpected report %+v", report)
	}
}
