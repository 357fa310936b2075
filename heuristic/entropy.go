package heuristic

import (
	"math"
	"os"

	"golang.org/x/exp/mmap"
)

// maxAnalyzeBytes bounds how much of a file any sub-analyzer reads.
const maxAnalyzeBytes = 10 * 1024 * 1024

// mmapMinSize is the file size above which samples are read through a
// memory mapping instead of buffered reads.
const mmapMinSize = 128 * 1024

type entropyResult struct {
	Entropy    float64 `json:"entropy"`
	Suspicious bool    `json:"suspicious"`
	Reason     string  `json:"reason,omitempty"`
}

// ShannonEntropy returns the Shannon entropy of data in bits per byte
// (0.0 to 8.0). Uniformly random bytes approach 8.0; long runs of a single
// byte approach 0.0.
func ShannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0.0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	length := float64(len(data))
	entropy := 0.0
	for _, count := range counts {
		if count == 0 {
			continue
		}
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// analyzeEntropy measures the entropy of up to the first 10 MiB of a file.
// Very high entropy marks packed or encrypted content; near-zero entropy is
// flagged too, since real binaries rarely look that uniform.
func analyzeEntropy(path string) entropyResult {
	data, err := readSample(path, maxAnalyzeBytes)
	if err != nil {
		return entropyResult{Reason: "unreadable: " + err.Error()}
	}
	if len(data) == 0 {
		return entropyResult{Reason: "empty file"}
	}

	entropy := ShannonEntropy(data)
	result := entropyResult{Entropy: entropy}
	switch {
	case entropy > 7.8:
		result.Suspicious = true
		result.Reason = "very high entropy - likely encrypted or compressed"
	case entropy > 7.2:
		result.Suspicious = true
		result.Reason = "high entropy - possibly packed"
	case entropy < 1.0:
		result.Suspicious = true
		result.Reason = "very low entropy - unusual pattern"
	}
	return result
}

func readSample(path string, maxBytes int) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() >= mmapMinSize {
		if data, err := readSampleMmap(path, info.Size(), maxBytes); err == nil {
			return data, nil
		}
	}
	return readSampleBuffered(path, maxBytes)
}

func readSampleMmap(path string, size int64, maxBytes int) ([]byte, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	readSize := size
	if readSize > int64(maxBytes) {
		readSize = int64(maxBytes)
	}
	if readSize <= 0 {
		return []byte{}, nil
	}
	buf := make([]byte, readSize)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

func readSampleBuffered(path string, maxBytes int) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	buf := make([]byte, maxBytes)
	n := 0
	for n < len(buf) {
		m, err := file.Read(buf[n:])
		n += m
		if err != nil {
			break
		}
	}
	return buf[:n], nil
}
