// Package pipeline drives the two long-running operations of siperea: analysis
// of an image folder into area time-series, and training of the segmentation
// model followed by evaluation on the training set.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"siperea/internal/models"
	"siperea/pkg/imageio"
	"siperea/pkg/predictor"
	"siperea/pkg/results"
	"siperea/pkg/roi"
	"siperea/pkg/tiling"
	"siperea/pkg/timeaxis"
	"siperea/pkg/visualization"
)

// Folder names created next to the analyzed images
const (
	OutputFolder        = "Output"
	VisualizationFolder = "Visualization"
)

var (
	// ErrInvalidInput is returned before any work when folders or the model are unusable
	ErrInvalidInput = errors.New("invalid input")

	// ErrDecode marks an unreadable image; the image is skipped
	ErrDecode = errors.New("cannot decode image")
)

// AnalysisParams holds the analysis parameters.
type AnalysisParams struct {
	// InputDir contains the images to analyze and, optionally, the ROI table
	InputDir string

	// ModelPath is the model artifact loaded at the start of the run
	ModelPath string

	// ModelOptions configures artifact loading
	ModelOptions predictor.Options

	// Predictor, when set, is used instead of loading ModelPath
	Predictor predictor.Predictor

	TileSize  int
	Overlap   int
	Threshold float32

	// SaveMasks writes each binary mask to Output/<base>.png
	SaveMasks bool

	// SaveVisualization and SaveEnhanced write figures to Visualization/
	SaveVisualization bool
	SaveEnhanced      bool

	// MaxPanelHeight bounds figure panels, 0 keeps full resolution
	MaxPanelHeight int

	// File names inside InputDir
	ROIFile        string
	ResultFile     string
	TimeReportFile string
}

// AnalysisSummary reports what a run did
type AnalysisSummary struct {
	Images   int
	Analyzed int
	Rows     int
	Skipped  []string
	Stopped  bool

	ResultPath string
}

// Analyzer runs a folder analysis
type Analyzer struct {
	params AnalysisParams
	logger *logrus.Entry
}

// NewAnalyzer creates an analyzer. A nil logger logs to the standard logger.
func NewAnalyzer(params AnalysisParams, logger *logrus.Entry) *Analyzer {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Analyzer{params: params, logger: logger.WithField("component", "analysis")}
}

// Run analyzes every image of the input folder in name order. The stop request
// is observed before each image; rows written so far stay valid. Unreadable
// images and filenames without a timestamp are skipped with a warning.
func (a *Analyzer) Run(ctx context.Context) (*AnalysisSummary, error) {
	p := a.params
	if info, err := os.Stat(p.InputDir); p.InputDir == "" || err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: input folder %q", ErrInvalidInput, p.InputDir)
	}

	model := p.Predictor
	if model == nil {
		if _, err := os.Stat(p.ModelPath); err != nil {
			return nil, fmt.Errorf("%w: model artifact %q not found", ErrInvalidInput, p.ModelPath)
		}
		a.logger.Infof("Loading model %s", p.ModelPath)
		loaded, err := predictor.Load(p.ModelPath, p.ModelOptions)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		defer predictor.Close(loaded)
		model = loaded
	}

	table, err := roi.LoadTable(filepath.Join(p.InputDir, p.ROIFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if table == nil {
		a.logger.Infof("%s not found, single ROI assigned", p.ROIFile)
	} else {
		a.logger.Infof("ROI loading completed: ROI count = %d", len(table.ROIs))
	}

	images, err := imageio.ListImages(p.InputDir, imageio.AnalysisExtensions)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	a.logger.Infof("Found %d images in %s", len(images), p.InputDir)

	writer := results.NewAreaWriter(filepath.Join(p.InputDir, p.ResultFile))
	summary := &AnalysisSummary{Images: len(images), ResultPath: writer.Path()}
	out := newArtifacts(p, a.logger)
	stitcher := tiling.NewStitcher(p.TileSize, p.Overlap, a.logger)
	var axis timeaxis.Builder

	for i, path := range images {
		if ctx.Err() != nil {
			a.logger.Info("Paused by user, processing stopped")
			summary.Stopped = true
			break
		}
		name := filepath.Base(path)
		logger := a.logger.WithField("file", name)
		logger.Infof("Image %d/%d: %s", i+1, len(images), name)

		start := time.Now()
		mask, err := out.process(stitcher, model, path, logger)
		if errors.Is(err, ErrDecode) {
			logger.WithError(err).Warn("Skipping image")
			summary.Skipped = append(summary.Skipped, name)
			continue
		}
		if err != nil {
			return summary, fmt.Errorf("failed to analyze %s: %w", name, err)
		}
		elapsed := time.Since(start)
		logger.Infof("Image processing time: %.2f s", elapsed.Seconds())
		if err := results.AppendTime(out.timeReportPath(), name, elapsed); err != nil {
			logger.WithError(err).Warn("Failed to append time report")
		}
		summary.Analyzed++

		ts, days, err := axis.Elapsed(name)
		if err != nil {
			logger.WithError(err).Warn("Could not process filename, no row written")
			summary.Skipped = append(summary.Skipped, name)
			continue
		}
		rec := models.TimeSeriesRecord{
			Filename:    name,
			Timestamp:   ts,
			ElapsedDays: days,
			Areas:       roi.Quantify(mask, table),
		}
		for _, c := range rec.Areas.Counts {
			logger.Debugf("ROI %s: %d white pixels", c.Label, c.Pixels)
		}
		if err := writer.Write(rec); err != nil {
			return summary, err
		}
		summary.Rows++
	}

	if summary.Rows > 0 {
		a.logger.Infof("Result file saved: %s", writer.Path())
	}
	return summary, nil
}

// artifacts writes the optional per-image outputs
type artifacts struct {
	params   AnalysisParams
	renderer visualization.Renderer
	logger   *logrus.Entry
	root     string
}

func newArtifacts(p AnalysisParams, logger *logrus.Entry) *artifacts {
	return &artifacts{
		params:   p,
		renderer: visualization.Renderer{MaxPanelHeight: p.MaxPanelHeight},
		logger:   logger,
		root:     p.InputDir,
	}
}

func (o *artifacts) outputDir() string {
	return filepath.Join(o.root, OutputFolder)
}

func (o *artifacts) vizDir() string {
	return filepath.Join(o.root, VisualizationFolder)
}

// timeReportPath is inside Output/ when masks are exported, else the input folder
func (o *artifacts) timeReportPath() string {
	if o.params.SaveMasks {
		return filepath.Join(o.outputDir(), o.params.TimeReportFile)
	}
	return filepath.Join(o.root, o.params.TimeReportFile)
}

// process predicts the mask of one image and writes the enabled artifacts
func (o *artifacts) process(stitcher *tiling.Stitcher, model predictor.Predictor, path string, logger *logrus.Entry) (*image.Gray, error) {
	img, err := imageio.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := img.Bounds()
	if b.Dx() <= stitcher.TileSize && b.Dy() <= stitcher.TileSize {
		logger.Infof("Image size (%dx%d) is smaller than tile size (%dx%d), predicting without tiling",
			b.Dx(), b.Dy(), stitcher.TileSize, stitcher.TileSize)
	} else {
		logger.Infof("Image size (%dx%d) is larger than tile size (%dx%d), using tiled prediction",
			b.Dx(), b.Dy(), stitcher.TileSize, stitcher.TileSize)
	}

	probs, err := stitcher.Stitch(img, model)
	if err != nil {
		return nil, err
	}
	lo, hi := probs.Range()
	logger.Infof("Prediction range: %g ~ %g", lo, hi)
	mask := tiling.Threshold(probs, o.params.Threshold)

	if o.params.SaveMasks {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".png"
		if err := imageio.SavePNG(filepath.Join(o.outputDir(), name), mask); err != nil {
			return nil, fmt.Errorf("failed to save mask: %w", err)
		}
		logger.Infof("Prediction results saved: %s", filepath.Join(o.outputDir(), name))
	}
	if o.params.SaveVisualization {
		if err := visualization.Save(o.vizDir(), visualization.VisualizationFile(path), o.renderer.SideBySide(img, probs)); err != nil {
			logger.WithError(err).Warn("Failed to save visualization")
		}
	}
	if o.params.SaveEnhanced {
		if err := visualization.Save(o.vizDir(), visualization.EnhancedFile(path), o.renderer.Enhanced(img, probs, mask)); err != nil {
			logger.WithError(err).Warn("Failed to save enhanced visualization")
		}
	}
	return mask, nil
}
