package classifier

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
	"go.uber.org/zap"
)

// DefaultModel is the phishing-detection DistilBERT checkpoint the
// gateway ships configured for.
const DefaultModel = "cybersectony/phishing-email-detection-distilbert_v2.1"

// HugotConfig configures the local ONNX backend.
type HugotConfig struct {
	// ModelName is the HuggingFace model to download when no local
	// copy exists under ModelDir.
	ModelName string

	// ModelDir is where downloaded ONNX models live.
	ModelDir string

	// OnnxLibraryPath points at libonnxruntime.so. Empty means the
	// pure Go backend, which is slower but dependency-free.
	OnnxLibraryPath string
}

// HugotClassifier runs the phishing model locally through ONNX.
type HugotClassifier struct {
	session  *hugot.Session
	pipeline *pipelines.TextClassificationPipeline
	mu       sync.RWMutex
	config   HugotConfig
	logger   *zap.Logger
	ready    bool
}

// NewHugotClassifier initializes the local model backend. It downloads
// the model on first use if no local copy is found.
func NewHugotClassifier(cfg HugotConfig, logger *zap.Logger) (*HugotClassifier, error) {
	if cfg.ModelName == "" {
		cfg.ModelName = DefaultModel
	}
	if cfg.ModelDir == "" {
		cfg.ModelDir = "./models"
	}
	if cfg.OnnxLibraryPath == "" {
		cfg.OnnxLibraryPath = defaultOnnxPath()
	}

	c := &HugotClassifier{config: cfg, logger: logger}
	if err := c.initialize(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *HugotClassifier) initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, err := c.createSession()
	if err != nil {
		return fmt.Errorf("failed to create inference session: %w", err)
	}
	c.session = session

	modelPath, err := c.resolveModelPath()
	if err != nil {
		_ = c.session.Destroy()
		return fmt.Errorf("failed to resolve model path: %w", err)
	}

	pipeline, err := hugot.NewPipeline(c.session, hugot.TextClassificationConfig{
		ModelPath: modelPath,
		Name:      "phishing-classifier",
	})
	if err != nil {
		_ = c.session.Destroy()
		return fmt.Errorf("failed to create classification pipeline: %w", err)
	}

	c.pipeline = pipeline
	c.ready = true
	c.logger.Info("classifier model loaded", zap.String("model", modelPath))
	return nil
}

// createSession prefers the ONNX Runtime backend and falls back to the
// pure Go backend when the shared library is missing.
func (c *HugotClassifier) createSession() (*hugot.Session, error) {
	if c.config.OnnxLibraryPath != "" {
		session, err := hugot.NewORTSession(options.WithOnnxLibraryPath(c.config.OnnxLibraryPath))
		if err == nil {
			c.logger.Info("classifier using ONNX Runtime backend")
			return session, nil
		}
		c.logger.Warn("ONNX Runtime unavailable, using Go backend", zap.Error(err))
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Go session: %w", err)
	}
	return session, nil
}

func (c *HugotClassifier) resolveModelPath() (string, error) {
	local := filepath.Join(c.config.ModelDir, filepath.Base(c.config.ModelName))
	if _, err := os.Stat(filepath.Join(local, "model.onnx")); err == nil {
		return local, nil
	}

	if err := os.MkdirAll(c.config.ModelDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}

	c.logger.Info("downloading classifier model", zap.String("model", c.config.ModelName))
	modelPath, err := hugot.DownloadModel(c.config.ModelName, c.config.ModelDir, hugot.NewDownloadOptions())
	if err != nil {
		return "", fmt.Errorf("failed to download model %s: %w", c.config.ModelName, err)
	}
	return modelPath, nil
}

func (c *HugotClassifier) Classify(_ context.Context, text string) (*Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.ready || c.pipeline == nil {
		return nil, fmt.Errorf("classifier model not ready")
	}

	out, err := c.pipeline.RunPipeline([]string{text})
	if err != nil {
		return nil, fmt.Errorf("model inference failed: %w", err)
	}
	if len(out.ClassificationOutputs) == 0 || len(out.ClassificationOutputs[0]) == 0 {
		return nil, fmt.Errorf("model returned no output")
	}

	top := out.ClassificationOutputs[0][0]
	label := canonicalLabel(top.Label)
	confidence := float64(top.Score)

	return &Result{
		Label:      label,
		Confidence: confidence,
		Probabilities: map[string]float64{
			label:         confidence,
			otherOf(label): 1 - confidence,
		},
		ModelVersion: c.config.ModelName,
	}, nil
}

func (c *HugotClassifier) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

func (c *HugotClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = false
	if c.session != nil {
		if err := c.session.Destroy(); err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
	}
	return nil
}

// canonicalLabel maps model-specific labels onto the pipeline vocabulary.
// The phishing checkpoint emits "phishing_url"/"legitimate_email" style
// labels; generic checkpoints emit LABEL_0/LABEL_1.
func canonicalLabel(label string) string {
	switch label {
	case "benign", "legitimate", "legitimate_email", "LABEL_0", "SAFE":
		return LabelBenign
	default:
		return LabelMalicious
	}
}

func otherOf(label string) string {
	if label == LabelBenign {
		return LabelMalicious
	}
	return LabelBenign
}

func defaultOnnxPath() string {
	paths := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Dir(p)
		}
	}
	return ""
}
