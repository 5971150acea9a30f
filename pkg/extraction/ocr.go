package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	extism "github.com/extism/go-sdk"
	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/config"
)

// OCREngine recognizes text in a raster image. Engines hold native resources
// and must be closed by whoever acquired them.
type OCREngine interface {
	Recognize(ctx context.Context, image []byte) (string, error)
	Close(ctx context.Context) error
}

// OCREngineFactory hands out a fresh engine per extraction call.
type OCREngineFactory interface {
	Acquire(ctx context.Context) (OCREngine, error)
}

// ExtismOCRFactory instantiates a WebAssembly OCR plugin for every call.
type ExtismOCRFactory struct {
	pluginPath string
	function   string
	timeout    time.Duration
	logger     *zap.Logger
}

var _ OCREngineFactory = (*ExtismOCRFactory)(nil)

// NewExtismOCRFactory returns nil when no plugin is configured.
func NewExtismOCRFactory(cfg config.OCRConfig, logger *zap.Logger) *ExtismOCRFactory {
	if cfg.PluginPath == "" {
		return nil
	}
	fn := cfg.Function
	if fn == "" {
		fn = "recognize"
	}
	return &ExtismOCRFactory{
		pluginPath: cfg.PluginPath,
		function:   fn,
		timeout:    cfg.Timeout,
		logger:     logger.Named("ocr"),
	}
}

func (f *ExtismOCRFactory) Acquire(ctx context.Context) (OCREngine, error) {
	manifest := extism.Manifest{
		Wasm: []extism.Wasm{
			extism.WasmFile{Path: f.pluginPath},
		},
	}

	plugin, err := extism.NewPlugin(ctx, manifest, extism.PluginConfig{EnableWasi: true}, nil)
	if err != nil {
		return nil, fmt.Errorf("load OCR plugin %s: %w", f.pluginPath, err)
	}
	if !plugin.FunctionExists(f.function) {
		_ = plugin.CloseWithContext(ctx)
		return nil, fmt.Errorf("OCR plugin %s does not export %q", f.pluginPath, f.function)
	}

	f.logger.Debug("OCR plugin loaded", zap.String("plugin", f.pluginPath))
	return &extismEngine{plugin: plugin, function: f.function, timeout: f.timeout}, nil
}

type extismEngine struct {
	plugin   *extism.Plugin
	function string
	timeout  time.Duration
}

func (e *extismEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	exit, out, err := e.plugin.CallWithContext(ctx, e.function, image)
	if err != nil {
		return "", fmt.Errorf("call %s: %w", e.function, err)
	}
	if exit != 0 {
		return "", fmt.Errorf("call %s: exit code %d", e.function, exit)
	}
	if len(out) == 0 {
		return "", errors.New("OCR plugin returned no text")
	}
	return string(out), nil
}

func (e *extismEngine) Close(ctx context.Context) error {
	return e.plugin.CloseWithContext(ctx)
}
