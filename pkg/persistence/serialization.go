package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/Layr-Labs/payword-channels-go/pkg/types"
)

// MarshalVendor serializes a Vendor to JSON bytes.
func MarshalVendor(v *types.Vendor) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("cannot marshal nil Vendor")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Vendor to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalVendor deserializes a Vendor from JSON bytes.
func UnmarshalVendor(data []byte) (*types.Vendor, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var v types.Vendor
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to Vendor: %w", err)
	}

	return &v, nil
}

// MarshalChannel serializes a Channel to JSON bytes.
// big.Int amounts are encoded as JSON numbers and round-trip without loss.
func MarshalChannel(c *types.Channel) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("cannot marshal nil Channel")
	}

	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Channel to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalChannel deserializes a Channel from JSON bytes.
func UnmarshalChannel(data []byte) (*types.Channel, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var c types.Channel
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to Channel: %w", err)
	}

	return &c, nil
}

// MarshalPayment serializes a Payment to JSON bytes.
func MarshalPayment(p *types.Payment) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("cannot marshal nil Payment")
	}

	return json.Marshal(p)
}

// UnmarshalPayment deserializes a Payment from JSON bytes.
func UnmarshalPayment(data []byte) (*types.Payment, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var p types.Payment
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to Payment: %w", err)
	}

	return &p, nil
}
