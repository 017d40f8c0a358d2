//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var ortInitMu sync.Mutex

// initRuntime initializes the ONNX runtime environment once per process.
func initRuntime(libraryPath string) error {
	ortInitMu.Lock()
	defer ortInitMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	return nil
}

// CLIPEncoder runs the CLIP vision and text towers exported as two ONNX graphs.
// It requires CGO and the onnxruntime shared library. Inference is serialized.
type CLIPEncoder struct {
	opts      CLIPOptions
	tokenizer Tokenizer

	visionSession *ort.AdvancedSession
	textSession   *ort.AdvancedSession

	// Pre-allocated tensors for Run(); we update input data and read output.
	pixelTensor       *ort.Tensor[float32]
	imageEmbedsTensor *ort.Tensor[float32]
	inputIDsTensor    *ort.Tensor[int64]
	attnMaskTensor    *ort.Tensor[int64]
	textEmbedsTensor  *ort.Tensor[float32]

	mu sync.Mutex
}

// NewCLIPEncoder creates both ONNX sessions. Without vocab/merges paths the
// hash tokenizer is used for text.
func NewCLIPEncoder(opts CLIPOptions) (*CLIPEncoder, error) {
	opts.applyDefaults()
	if opts.VisionModelPath == "" || opts.TextModelPath == "" {
		return nil, fmt.Errorf("vision and text model paths are required")
	}
	if err := initRuntime(opts.RuntimeLibraryPath); err != nil {
		return nil, err
	}

	var tokenizer Tokenizer = &HashTokenizer{}
	if opts.VocabPath != "" && opts.MergesPath != "" {
		tok, err := LoadCLIPTokenizer(opts.VocabPath, opts.MergesPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load tokenizer: %w", err)
		}
		tokenizer = tok
	}

	e := &CLIPEncoder{opts: opts, tokenizer: tokenizer}
	if err := e.initVision(); err != nil {
		_ = e.Close()
		return nil, err
	}
	if err := e.initText(); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

func (e *CLIPEncoder) initVision() error {
	size := int64(e.opts.ImageSize)
	var err error
	e.pixelTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return fmt.Errorf("failed to create pixel_values tensor: %w", err)
	}
	e.imageEmbedsTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(e.opts.Dimensions)))
	if err != nil {
		return fmt.Errorf("failed to create image_embeds tensor: %w", err)
	}
	e.visionSession, err = ort.NewAdvancedSession(
		e.opts.VisionModelPath,
		[]string{"pixel_values"},
		[]string{"image_embeds"},
		[]ort.ArbitraryTensor{e.pixelTensor},
		[]ort.ArbitraryTensor{e.imageEmbedsTensor},
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to create vision session: %w", err)
	}
	return nil
}

func (e *CLIPEncoder) initText() error {
	ctxLen := int64(e.opts.ContextLength)
	var err error
	e.inputIDsTensor, err = ort.NewEmptyTensor[int64](ort.NewShape(1, ctxLen))
	if err != nil {
		return fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	e.attnMaskTensor, err = ort.NewEmptyTensor[int64](ort.NewShape(1, ctxLen))
	if err != nil {
		return fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	e.textEmbedsTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(e.opts.Dimensions)))
	if err != nil {
		return fmt.Errorf("failed to create text_embeds tensor: %w", err)
	}
	e.textSession, err = ort.NewAdvancedSession(
		e.opts.TextModelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"text_embeds"},
		[]ort.ArbitraryTensor{e.inputIDsTensor, e.attnMaskTensor},
		[]ort.ArbitraryTensor{e.textEmbedsTensor},
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to create text session: %w", err)
	}
	return nil
}

// EncodeImage preprocesses img and runs the vision tower.
func (e *CLIPEncoder) EncodeImage(ctx context.Context, img image.Image) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pixels := PreprocessImage(img, e.opts.ImageSize)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.visionSession == nil {
		return nil, fmt.Errorf("encoder is closed")
	}

	copy(e.pixelTensor.GetData(), pixels)
	if err := e.visionSession.Run(); err != nil {
		return nil, fmt.Errorf("vision inference failed: %w", err)
	}
	out := make([]float32, e.opts.Dimensions)
	copy(out, e.imageEmbedsTensor.GetData())
	return out, nil
}

// EncodeText tokenizes text and runs the text tower.
func (e *CLIPEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inputIDs, attentionMask := e.tokenizer.Tokenize(text, e.opts.ContextLength)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.textSession == nil {
		return nil, fmt.Errorf("encoder is closed")
	}

	copy(e.inputIDsTensor.GetData(), inputIDs)
	copy(e.attnMaskTensor.GetData(), attentionMask)
	if err := e.textSession.Run(); err != nil {
		return nil, fmt.Errorf("text inference failed: %w", err)
	}
	out := make([]float32, e.opts.Dimensions)
	copy(out, e.textEmbedsTensor.GetData())
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *CLIPEncoder) Dimensions() int {
	return e.opts.Dimensions
}

// Info describes the loaded model.
func (e *CLIPEncoder) Info() ModelInfo {
	return ModelInfo{
		Name:          e.opts.ModelName,
		Backend:       "onnx",
		Device:        "cpu",
		Dimensions:    e.opts.Dimensions,
		ImageSize:     e.opts.ImageSize,
		ContextLength: e.opts.ContextLength,
	}
}

// Close destroys the sessions and tensors.
func (e *CLIPEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	for _, s := range []**ort.AdvancedSession{&e.visionSession, &e.textSession} {
		if *s != nil {
			if destroyErr := (*s).Destroy(); destroyErr != nil && err == nil {
				err = destroyErr
			}
			*s = nil
		}
	}
	for _, t := range []**ort.Tensor[float32]{&e.pixelTensor, &e.imageEmbedsTensor, &e.textEmbedsTensor} {
		if *t != nil {
			_ = (*t).Destroy()
			*t = nil
		}
	}
	for _, t := range []**ort.Tensor[int64]{&e.inputIDsTensor, &e.attnMaskTensor} {
		if *t != nil {
			_ = (*t).Destroy()
			*t = nil
		}
	}
	return err
}
