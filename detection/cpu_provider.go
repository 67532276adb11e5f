package detection

import (
	"gocv.io/x/gocv"
)

// CPUProvider implements OBB inference using the OpenCV CPU backend
type CPUProvider struct {
	obbNet
}

// Initialize loads the ONNX model on the CPU backend
func (cp *CPUProvider) Initialize(modelPath string, opts Options) error {
	return cp.load(modelPath, opts, gocv.NetBackendDefault, gocv.NetTargetCPU)
}

// DetectBatch runs one forward pass over the whole batch
func (cp *CPUProvider) DetectBatch(frames []gocv.Mat) ([][]OBB, error) {
	return cp.detectBatch(frames)
}

// Close releases resources used by the CPU provider
func (cp *CPUProvider) Close() error {
	return cp.close()
}

// GetProviderInfo returns information about the CPU provider
func (cp *CPUProvider) GetProviderInfo() ProviderInfo {
	return ProviderInfo{
		Type:    "CPU",
		Backend: "OpenCV CPU",
		Device:  "CPU",
	}
}
