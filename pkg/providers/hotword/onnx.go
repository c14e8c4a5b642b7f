package hotword

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// OnnxKeywordDetector is an openWakeWord-style multi-keyword engine:
// melspectrogram -> embedding -> per-keyword scoring head, one scoring
// head per configured wake/stop phrase, so a single detector instance
// can recognize any of several configured phrases.
//
// The ONNX runtime environment (ort.InitializeEnvironment) is process-wide;
// callers constructing more than one OnnxKeywordDetector must share it;
// NewSharedRuntime below does that.
type OnnxKeywordDetector struct {
	mu sync.Mutex

	keywords   []string
	threshold  float64
	sampleRate int

	melSess   *ort.AdvancedSession
	embedSess *ort.AdvancedSession
	kwSess    []*ort.AdvancedSession

	melIn, melOut     *ort.Tensor[float32]
	embedIn, embedOut *ort.Tensor[float32]
	kwIn              []*ort.Tensor[float32]
	kwOut             []*ort.Tensor[float32]

	melBuffer   []float32
	embedBuffer []float32
}

const (
	onnxSampleRate   = 16000
	onnxChunkSamples = 1280 // 80ms @ 16kHz, matches the melspectrogram model's expected input
	onnxMelWindow    = 76
	onnxMelStep      = 8
	onnxEmbeddingDim = 96
	onnxEmbedFrames  = 16
	onnxMelBins      = 32
	onnxMelFrames    = 5
)

// RuntimeHandle owns the process-wide ONNX Runtime environment; Close
// must be called exactly once at shutdown.
type RuntimeHandle struct{}

// NewSharedRuntime points the ONNX runtime at its shared library and
// initializes the process-wide environment once.
func NewSharedRuntime(sharedLibPath string) (*RuntimeHandle, error) {
	ort.SetSharedLibraryPath(sharedLibPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("onnx runtime init: %w", err)
	}
	return &RuntimeHandle{}, nil
}

func (h *RuntimeHandle) Close() error {
	return ort.DestroyEnvironment()
}

// OnnxKeywordConfig names the melspectrogram/embedding models shared by
// every detector role, plus one scoring-head model path per keyword.
type OnnxKeywordConfig struct {
	MelspecModel   string
	EmbeddingModel string
	KeywordModels  map[string]string // keyword label -> scoring-head model path
	Threshold      float64
}

func NewOnnxKeywordDetector(cfg OnnxKeywordConfig) (*OnnxKeywordDetector, error) {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 0.5
	}

	melIn, err := ort.NewEmptyTensor[float32](ort.NewShape(1, onnxChunkSamples))
	if err != nil {
		return nil, fmt.Errorf("onnx melspec input tensor: %w", err)
	}
	melOut, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, onnxMelFrames, onnxMelBins))
	if err != nil {
		return nil, fmt.Errorf("onnx melspec output tensor: %w", err)
	}
	msInInfo, msOutInfo, err := ort.GetInputOutputInfo(cfg.MelspecModel)
	if err != nil {
		return nil, fmt.Errorf("onnx melspec model info: %w", err)
	}
	melSess, err := ort.NewAdvancedSession(cfg.MelspecModel,
		[]string{msInInfo[0].Name}, []string{msOutInfo[0].Name},
		[]ort.Value{melIn}, []ort.Value{melOut}, nil)
	if err != nil {
		return nil, fmt.Errorf("onnx melspec session: %w", err)
	}

	embedIn, err := ort.NewEmptyTensor[float32](ort.NewShape(1, onnxMelWindow, onnxMelBins, 1))
	if err != nil {
		return nil, fmt.Errorf("onnx embedding input tensor: %w", err)
	}
	embedOut, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, 1, onnxEmbeddingDim))
	if err != nil {
		return nil, fmt.Errorf("onnx embedding output tensor: %w", err)
	}
	emInInfo, emOutInfo, err := ort.GetInputOutputInfo(cfg.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("onnx embedding model info: %w", err)
	}
	embedSess, err := ort.NewAdvancedSession(cfg.EmbeddingModel,
		[]string{emInInfo[0].Name}, []string{emOutInfo[0].Name},
		[]ort.Value{embedIn}, []ort.Value{embedOut}, nil)
	if err != nil {
		return nil, fmt.Errorf("onnx embedding session: %w", err)
	}

	d := &OnnxKeywordDetector{
		threshold:   threshold,
		sampleRate:  onnxSampleRate,
		melSess:     melSess,
		embedSess:   embedSess,
		melIn:       melIn,
		melOut:      melOut,
		embedIn:     embedIn,
		embedOut:    embedOut,
		melBuffer:   make([]float32, 0, 300*onnxMelBins),
		embedBuffer: make([]float32, onnxEmbedFrames*onnxEmbeddingDim),
	}

	for kw, path := range cfg.KeywordModels {
		in, err := ort.NewEmptyTensor[float32](ort.NewShape(1, onnxEmbedFrames, onnxEmbeddingDim))
		if err != nil {
			return nil, fmt.Errorf("onnx keyword %q input tensor: %w", kw, err)
		}
		out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
		if err != nil {
			return nil, fmt.Errorf("onnx keyword %q output tensor: %w", kw, err)
		}
		inInfo, outInfo, err := ort.GetInputOutputInfo(path)
		if err != nil {
			return nil, fmt.Errorf("onnx keyword %q model info: %w", kw, err)
		}
		sess, err := ort.NewAdvancedSession(path,
			[]string{inInfo[0].Name}, []string{outInfo[0].Name},
			[]ort.Value{in}, []ort.Value{out}, nil)
		if err != nil {
			return nil, fmt.Errorf("onnx keyword %q session: %w", kw, err)
		}
		d.keywords = append(d.keywords, kw)
		d.kwSess = append(d.kwSess, sess)
		d.kwIn = append(d.kwIn, in)
		d.kwOut = append(d.kwOut, out)
	}

	return d, nil
}

func (d *OnnxKeywordDetector) SampleRate() int    { return d.sampleRate }
func (d *OnnxKeywordDetector) FrameLength() int   { return onnxChunkSamples }
func (d *OnnxKeywordDetector) Keywords() []string { return d.keywords }
func (d *OnnxKeywordDetector) Name() string       { return "onnx-keyword" }

// Process runs one 80ms frame (exactly FrameLength samples) through the
// melspectrogram -> embedding -> per-keyword scoring pipeline and returns
// the index of the first keyword whose score clears the threshold, or -1.
func (d *OnnxKeywordDetector) Process(frame []int16) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(frame) != onnxChunkSamples {
		return -1, fmt.Errorf("onnx detector: expected %d samples, got %d", onnxChunkSamples, len(frame))
	}

	in := d.melIn.GetData()
	for i, v := range frame {
		in[i] = float32(v)
	}
	if err := d.melSess.Run(); err != nil {
		return -1, fmt.Errorf("melspec run: %w", err)
	}

	melOut := d.melOut.GetData()
	for f := 0; f < onnxMelFrames; f++ {
		for b := 0; b < onnxMelBins; b++ {
			idx := f*onnxMelBins + b
			if idx < len(melOut) {
				d.melBuffer = append(d.melBuffer, melOut[idx]/10.0+2.0)
			}
		}
	}

	newEmbed := false
	totalMel := len(d.melBuffer) / onnxMelBins
	for totalMel >= onnxMelWindow {
		eIn := d.embedIn.GetData()
		copy(eIn, d.melBuffer[:onnxMelWindow*onnxMelBins])
		if err := d.embedSess.Run(); err != nil {
			return -1, fmt.Errorf("embedding run: %w", err)
		}
		eOut := d.embedOut.GetData()

		copy(d.embedBuffer, d.embedBuffer[onnxEmbeddingDim:])
		copy(d.embedBuffer[(onnxEmbedFrames-1)*onnxEmbeddingDim:], eOut[:onnxEmbeddingDim])
		newEmbed = true

		n := copy(d.melBuffer, d.melBuffer[onnxMelStep*onnxMelBins:])
		d.melBuffer = d.melBuffer[:n]
		totalMel = len(d.melBuffer) / onnxMelBins
	}
	if totalMel > onnxMelWindow {
		excess := (totalMel - onnxMelWindow) * onnxMelBins
		n := copy(d.melBuffer, d.melBuffer[excess:])
		d.melBuffer = d.melBuffer[:n]
	}

	if !newEmbed {
		return -1, nil
	}

	for i, sess := range d.kwSess {
		kwIn := d.kwIn[i].GetData()
		copy(kwIn, d.embedBuffer)
		if err := sess.Run(); err != nil {
			return -1, fmt.Errorf("keyword %q run: %w", d.keywords[i], err)
		}
		score := d.kwOut[i].GetData()[0]
		if float64(score) >= d.threshold {
			return i, nil
		}
	}
	return -1, nil
}

// Close releases every ONNX session and tensor this detector owns. It
// does not touch the shared process-wide runtime; call RuntimeHandle.Close
// separately at shutdown.
func (d *OnnxKeywordDetector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.kwSess {
		s.Destroy()
	}
	for _, t := range d.kwIn {
		t.Destroy()
	}
	for _, t := range d.kwOut {
		t.Destroy()
	}
	d.embedSess.Destroy()
	d.melSess.Destroy()
	d.embedIn.Destroy()
	d.embedOut.Destroy()
	d.melIn.Destroy()
	d.melOut.Destroy()
}
