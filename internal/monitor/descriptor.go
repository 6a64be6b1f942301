package monitor

import (
	"encoding/json"
	"fmt"
)

// Descriptor carries everything a remote worker needs to start reporting:
// the aggregator endpoint, the sampling step, and the loop trip count. It is
// immutable and travels out-of-band through whatever mechanism distributes
// work to the workers.
type Descriptor struct {
	Addr            string `json:"addr"`
	StepSize        int64  `json:"step_size"`
	TotalIterations int64  `json:"total_iterations"`
}

// Validate reports whether the descriptor can rebuild a reporter.
func (d Descriptor) Validate() error {
	if d.Addr == "" {
		return fmt.Errorf("descriptor addr is required")
	}
	if d.StepSize < 1 {
		return fmt.Errorf("descriptor step size must be at least 1, got %d", d.StepSize)
	}
	if d.TotalIterations < 1 {
		return fmt.Errorf("descriptor total iterations must be at least 1, got %d", d.TotalIterations)
	}
	return nil
}

// Encode serializes the descriptor for shipping to a worker process.
func (d Descriptor) Encode() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode descriptor: %w", err)
	}
	return data, nil
}

// DecodeDescriptor rebuilds and validates a descriptor on the worker side.
func DecodeDescriptor(data []byte) (Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return Descriptor{}, fmt.Errorf("decode descriptor: %w", err)
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}
