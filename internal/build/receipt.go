package build

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// ReceiptFile is the name of the install receipt written into every prefix.
const ReceiptFile = ".llinstall-receipt.json"

// Receipt records how an install tree was produced.
type Receipt struct {
	Formula   string    `json:"formula"`
	Version   string    `json:"version"`
	Mode      string    `json:"mode"`
	Digest    string    `json:"digest,omitempty"`
	Revision  string    `json:"revision,omitempty"`
	Command   []string  `json:"command"`
	Toolchain string    `json:"toolchain,omitempty"`
	BuildTime time.Time `json:"build_time"`
}

// ReadReceipt loads the receipt of the install tree at prefix.
func ReadReceipt(prefix string) (*Receipt, error) {
	data, err := os.ReadFile(filepath.Join(prefix, ReceiptFile))
	if err != nil {
		return nil, err
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func writeReceipt(prefix string, r *Receipt) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(prefix, ReceiptFile), data, 0o644)
}
