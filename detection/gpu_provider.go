package detection

import (
	"gocv.io/x/gocv"
)

// GPUProvider implements OBB inference using the OpenCV CUDA backend
type GPUProvider struct {
	obbNet
}

// Initialize loads the ONNX model on the CUDA backend
func (gp *GPUProvider) Initialize(modelPath string, opts Options) error {
	return gp.load(modelPath, opts, gocv.NetBackendCUDA, gocv.NetTargetCUDA)
}

// DetectBatch runs one forward pass over the whole batch
func (gp *GPUProvider) DetectBatch(frames []gocv.Mat) ([][]OBB, error) {
	return gp.detectBatch(frames)
}

// Close releases resources used by the GPU provider
func (gp *GPUProvider) Close() error {
	return gp.close()
}

// GetProviderInfo returns information about the GPU provider
func (gp *GPUProvider) GetProviderInfo() ProviderInfo {
	return ProviderInfo{
		Type:    "GPU",
		Backend: "OpenCV CUDA",
		Device:  "NVIDIA GPU",
	}
}
