package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nearEventStreamer/internal/indexer"
	"nearEventStreamer/internal/jsoncodec"
	"nearEventStreamer/internal/model"
	"nearEventStreamer/internal/source"
)

func runExtract(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	filter, err := newContractFilter(cfg)
	if err != nil {
		return err
	}

	in, _ := cmd.Flags().GetString("in")
	src, closeSource, err := source.OpenJSONL(in, cfg.StartBlockHeight, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	blocks := make(chan model.StreamerMessage)
	srcErr := make(chan error, 1)
	go func() {
		srcErr <- src.Stream(ctx, blocks)
	}()

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	extractor := indexer.NewExtractor(logger, nil)
	var count int
	for msg := range blocks {
		for _, e := range filter.Apply(extractor.Extract(msg)) {
			if err := jsoncodec.Encode(out, e); err != nil {
				stop()
				<-srcErr
				return fmt.Errorf("write event: %w", err)
			}
			count++
		}
	}
	if err := <-srcErr; err != nil {
		return err
	}

	logger.Info("extract done", zap.Int("events", count))
	return nil
}
