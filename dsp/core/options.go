package core

// ProcessorConfig defines common render-path settings.
type ProcessorConfig struct {
	SampleRate float64
	BlockSize  int
}

// DefaultProcessorConfig returns defaults suited to a host callback of
// 128 frames at 48 kHz.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		SampleRate: 48000,
		BlockSize:  128,
	}
}
