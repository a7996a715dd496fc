package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"lcmeval/internal/catalog"
	"lcmeval/internal/crawler"
	"lcmeval/pkg/logger"

	"github.com/spf13/cobra"
)

func runCrawl(cmd *cobra.Command, args []string) error {
	log := logger.New()
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := crawler.New(cfg.Crawler, log.Zap())
	report, err := c.CrawlAll(ctx)
	log.Infow("Crawl finished",
		"output_dir", cfg.Crawler.OutputDir,
		"pages", report.Pages,
		"apis", report.APIs,
		"failed_pages", len(report.FailedPages))
	for _, page := range report.FailedPages {
		log.Warnw("Page not crawled", "url", page)
	}
	return err
}

func runMerge(cmd *cobra.Command, args []string) error {
	log := logger.New()
	defer log.Sync()

	entries, err := catalog.MergeRaw(cfg.Catalog.RawDir, log.Zap())
	if err != nil {
		return fmt.Errorf("failed to merge raw pages: %w", err)
	}
	if err := catalog.WriteCSV(cfg.Catalog.Path, entries); err != nil {
		return err
	}

	log.Infow("Catalog written", "path", cfg.Catalog.Path, "apis", len(entries))
	return nil
}
