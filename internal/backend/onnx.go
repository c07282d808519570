package backend

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/Brownie44l1/cropai-api/internal/metrics"
	"github.com/Brownie44l1/cropai-api/internal/model"
)

// ONNX Runtime keeps one environment per process.
var (
	envMu    sync.Mutex
	envReady bool
)

func initEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envReady {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return eris.Wrap(err, "onnx: initialize environment")
	}
	envReady = true
	return nil
}

// ONNXConfig configures the graph-compiled backend.
type ONNXConfig struct {
	LibraryPath    string
	Device         model.Device
	IntraOpThreads int
}

// ONNXLoader loads <arch>.onnx files into ONNX Runtime sessions.
type ONNXLoader struct {
	artifacts Artifacts
	cfg       ONNXConfig
}

func NewONNXLoader(artifacts Artifacts, cfg ONNXConfig) *ONNXLoader {
	if cfg.Device == "" {
		cfg.Device = model.DeviceCPU
	}
	return &ONNXLoader{artifacts: artifacts, cfg: cfg}
}

func (l *ONNXLoader) Kind() model.BackendKind { return model.BackendGraph }

func (l *ONNXLoader) Load(_ context.Context, arch model.Architecture) (Handle, error) {
	path, err := l.artifacts.Require(arch, model.BackendGraph)
	if err != nil {
		return nil, err
	}

	meta, err := ReadMetadata(l.artifacts.MetadataPath(arch), arch)
	if err != nil {
		return nil, err
	}

	if err := initEnvironment(l.cfg.LibraryPath); err != nil {
		return nil, model.Wrap(model.ErrModelUnavailable, err, "%s graph runtime", arch)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, model.Wrap(model.ErrModelUnavailable, err, "inspect %s", path)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, model.Wrap(model.ErrModelUnavailable, errNoIO, "inspect %s", path)
	}
	in, out := inputs[0], outputs[0]

	inputSize := meta.ImageSize
	if d := lastDim(in.Dimensions); d > 0 {
		inputSize = int(d)
	}
	classCount := reconcileClasses(meta.Classes, int(lastDim(out.Dimensions)), arch, model.BackendGraph)

	options, device, err := l.sessionOptions()
	if err != nil {
		return nil, model.Wrap(model.ErrModelUnavailable, err, "%s session options", arch)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{in.Name}, []string{out.Name}, options)
	if err != nil {
		return nil, model.Wrap(model.ErrModelUnavailable, err, "create %s session", arch)
	}

	zap.L().Info("graph model loaded",
		zap.String("architecture", string(arch)),
		zap.String("path", path),
		zap.String("device", string(device)),
		zap.Int("classes", classCount),
		zap.Int("input_size", inputSize),
	)

	return &onnxHandle{
		session: session,
		info: model.HandleInfo{
			Architecture: arch,
			Backend:      model.BackendGraph,
			ClassCount:   classCount,
			Device:       device,
			InputSize:    inputSize,
			Classes:      meta.Classes,
		},
	}, nil
}

// sessionOptions builds session options for the configured device. CUDA
// setup failures fall back to the CPU provider.
func (l *ONNXLoader) sessionOptions() (*ort.SessionOptions, model.Device, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, "", eris.Wrap(err, "onnx: new session options")
	}
	if l.cfg.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(l.cfg.IntraOpThreads); err != nil {
			options.Destroy()
			return nil, "", eris.Wrap(err, "onnx: set intra-op threads")
		}
	}
	if l.cfg.Device != model.DeviceCUDA {
		return options, model.DeviceCPU, nil
	}

	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err == nil {
		defer cudaOptions.Destroy()
		err = options.AppendExecutionProviderCUDA(cudaOptions)
	}
	if err != nil {
		zap.L().Warn("cuda execution provider unavailable, using cpu", zap.Error(err))
		return options, model.DeviceCPU, nil
	}
	return options, model.DeviceCUDA, nil
}

// Close tears down the process-wide runtime environment.
func (l *ONNXLoader) Close() error {
	envMu.Lock()
	defer envMu.Unlock()
	if !envReady {
		return nil
	}
	envReady = false
	return ort.DestroyEnvironment()
}

type onnxHandle struct {
	session *ort.DynamicAdvancedSession
	info    model.HandleInfo
}

func (h *onnxHandle) Info() model.HandleInfo { return h.info }

func (h *onnxHandle) Infer(_ context.Context, input []float32) ([]float32, error) {
	size := int64(h.info.InputSize)
	if int64(len(input)) != 3*size*size {
		return nil, eris.Wrapf(ErrShapeMismatch, "got %d values, want 3x%dx%d", len(input), size, size)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, size, size), input)
	if err != nil {
		return nil, eris.Wrap(err, "onnx: create input tensor")
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(h.info.ClassCount)))
	if err != nil {
		return nil, eris.Wrap(err, "onnx: create output tensor")
	}
	defer outputTensor.Destroy()

	start := time.Now()
	err = h.session.Run([]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor})
	metrics.InferenceLatency.WithLabelValues(string(h.info.Architecture), string(h.info.Backend)).
		Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, eris.Wrapf(err, "onnx: run %s", h.info.Architecture)
	}

	return append([]float32(nil), outputTensor.GetData()...), nil
}

func (h *onnxHandle) Close() error {
	if h.session == nil {
		return nil
	}
	return h.session.Destroy()
}
