package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"siperea/internal/server"
	"siperea/pkg/config"
	"siperea/pkg/events"
	"siperea/pkg/job"
	"siperea/pkg/pipeline"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: siperea <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  analyze      quantify coverage of every image in a folder")
	fmt.Fprintln(os.Stderr, "  train        train the segmentation model on image/mask pairs")
	fmt.Fprintln(os.Stderr, "  serve        run the HTTP controller")
	fmt.Fprintln(os.Stderr, "  init-config  write a default configuration file")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "analyze":
		err = runAnalyze(os.Args[2:])
	case "train":
		err = runTrain(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "init-config":
		err = runInitConfig(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAnalyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Configuration file")
	inputDir := fs.String("input", "", "Folder containing the plate images")
	modelPath := fs.String("model", "", "Model artifact (default: model.path from config)")
	saveMasks := fs.Bool("save-masks", false, "Export binary masks to the Output folder")
	saveViz := fs.Bool("save-viz", false, "Save original/mask figures")
	saveEnhanced := fs.Bool("save-enhanced", false, "Save original/heat-map/mask figures")
	fs.Parse(args)

	if *inputDir == "" {
		fs.Usage()
		return fmt.Errorf("-input is required")
	}
	cfg, logger, _, err := setup(*configPath)
	if err != nil {
		return err
	}

	params := pipeline.NewAnalysisParams(cfg, *inputDir)
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "model":
			params.ModelPath = *modelPath
		case "save-masks":
			params.SaveMasks = *saveMasks
		case "save-viz":
			params.SaveVisualization = *saveViz
		case "save-enhanced":
			params.SaveEnhanced = *saveEnhanced
		}
	})

	analyzer := pipeline.NewAnalyzer(params, logger)
	status := supervise(cfg, logger, "analysis", func(ctx context.Context) (any, error) {
		return analyzer.Run(ctx)
	})
	if status.Err != nil {
		return status.Err
	}
	if summary, ok := status.Result.(*pipeline.AnalysisSummary); ok && summary != nil {
		logger.Infof("Analyzed %d of %d images, %d rows written, %d skipped",
			summary.Analyzed, summary.Images, summary.Rows, len(summary.Skipped))
	}
	return nil
}

func runTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Configuration file")
	sourceDir := fs.String("source", "", "Folder containing the training images")
	maskDir := fs.String("masks", "", "Folder containing the binary masks")
	folds := fs.Int("folds", 0, "Number of cross-validation folds (0 or 1 for a single split)")
	epochs := fs.Int("epochs", 0, "Maximum epochs per run (default: training.epochs from config)")
	output := fs.String("output", "", "Final model path (default: model.trainedPath from config)")
	fs.Parse(args)

	if *sourceDir == "" || *maskDir == "" {
		fs.Usage()
		return fmt.Errorf("-source and -masks are required")
	}
	cfg, logger, _, err := setup(*configPath)
	if err != nil {
		return err
	}

	params := pipeline.NewTrainingParams(cfg, *sourceDir, *maskDir)
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "folds":
			params.Options.Folds = *folds
		case "epochs":
			params.Options.Epochs = *epochs
		case "output":
			params.Options.ModelPath = *output
		}
	})
	if params.Options.Epochs <= 0 {
		return fmt.Errorf("-epochs must be positive")
	}

	trainer := pipeline.NewTrainer(params, logger)
	status := supervise(cfg, logger, "training", func(ctx context.Context) (any, error) {
		return trainer.Run(ctx)
	})
	if status.Err != nil {
		return status.Err
	}
	summary, ok := status.Result.(*pipeline.TrainingSummary)
	if !ok || summary == nil || summary.Result == nil {
		return nil
	}
	if r := summary.Result; r.Produced() {
		if r.BestFold > 0 {
			logger.Infof("Best fold %d, mean val_loss %.5f, mean val_accuracy %.5f", r.BestFold, r.MeanValLoss, r.MeanValAccuracy)
		}
		logger.Infof("Best model: epoch %d, val_loss %.5f, saved to %s", r.Best.Epoch, r.Best.ValLoss, params.Options.ModelPath)
	}
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Configuration file")
	addr := fs.String("addr", "", "Listen address (default: server.addr from config)")
	fs.Parse(args)

	cfg, logger, broker, err := setup(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.New(cfg, broker, logger).Run(ctx, cfg.Server.Addr)
}

func runInitConfig(args []string) error {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	output := fs.String("output", "config.yaml", "Configuration file to create")
	force := fs.Bool("force", false, "Overwrite an existing file")
	fs.Parse(args)

	if _, err := os.Stat(*output); err == nil && !*force {
		return fmt.Errorf("%s already exists, use -force to overwrite", *output)
	}
	if err := config.CreateDefaultConfigFile(*output); err != nil {
		return err
	}
	fmt.Printf("Default configuration written to %s\n", *output)
	return nil
}

// setup loads the configuration and builds the run logger. Every entry is also
// published to the returned broker.
func setup(configPath string) (*config.Config, *logrus.Entry, *events.Broker, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}
	logger := logrus.New()
	logger.SetLevel(level)
	if strings.EqualFold(cfg.Logging.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	broker := events.NewBroker(events.DefaultCapacity)
	logger.AddHook(events.NewHook(broker, level))
	return cfg, logger.WithField("run", uuid.NewString()), broker, nil
}

// supervise runs fn as a job, polling at the configured interval. The first
// interrupt requests a cooperative stop; a second one exits immediately.
func supervise(cfg *config.Config, logger *logrus.Entry, name string, fn job.Func) job.Status {
	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	started := time.Now()
	j := job.Start(context.Background(), name, fn)
	ticker := time.NewTicker(cfg.Analysis.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-interrupts:
			if j.StopRequested() {
				logger.Warn("Interrupted again, exiting")
				os.Exit(130)
			}
			logger.Info("Stop requested, finishing the current step...")
			j.Stop()
		case <-ticker.C:
			status := j.Poll()
			if !status.Done() {
				continue
			}
			switch status.Kind {
			case job.Stopped:
				logger.Infof("%s stopped by user after %.2f seconds", name, time.Since(started).Seconds())
			case job.Failed:
				logger.WithError(status.Err).Errorf("%s failed", name)
			default:
				logger.Infof("%s completed in %.2f seconds", name, time.Since(started).Seconds())
			}
			return status
		}
	}
}
