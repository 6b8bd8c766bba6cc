// File: internal/ledger/contract.go
package ledger

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

// Contract methods used by the service
const (
	MethodAddMedicine            = "addMedicine"
	MethodUpdateMedicineStage    = "updateMedicineStage"
	MethodMedicineCounter        = "medicineCounter"
	MethodGetMedicineStage       = "getMedicineStage"
	MethodGetFullMedicineHistory = "getFullMedicineHistory"
)

// SupplyChainABI is the interface of the medicine supply chain contract
const SupplyChainABI = `[
  {"type":"function","name":"addMedicine","stateMutability":"nonpayable",
   "inputs":[{"name":"_name","type":"string"},{"name":"_description","type":"string"},{"name":"_stage","type":"string"}],
   "outputs":[]},
  {"type":"function","name":"updateMedicineStage","stateMutability":"nonpayable",
   "inputs":[{"name":"_medicineId","type":"uint256"},{"name":"_stage","type":"string"},{"name":"_note","type":"string"}],
   "outputs":[]},
  {"type":"function","name":"medicineCounter","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getMedicineStage","stateMutability":"view",
   "inputs":[{"name":"_medicineId","type":"uint256"}],
   "outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"getFullMedicineHistory","stateMutability":"view",
   "inputs":[{"name":"_medicineId","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple[]","components":[
     {"name":"action","type":"string"},
     {"name":"participant","type":"address"},
     {"name":"timestamp","type":"uint256"},
     {"name":"note","type":"string"}]}]}
]`

// HistoryRecord is one element of getFullMedicineHistory as the contract
// returns it. Timestamp is in the ledger's native unit.
type HistoryRecord struct {
	Action      string
	Participant common.Address
	Timestamp   *big.Int
	Note        string
}

// LoadABI parses the ABI at path, or the built-in one when path is empty
func LoadABI(path string) (abi.ABI, error) {
	source := SupplyChainABI
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return abi.ABI{}, utils.WrapError(utils.ErrCodeConfiguration, "Failed to read contract ABI", err)
		}
		source = string(raw)
	}

	parsed, err := abi.JSON(strings.NewReader(source))
	if err != nil {
		return abi.ABI{}, utils.WrapError(utils.ErrCodeConfiguration, "Failed to parse contract ABI", err)
	}

	for _, method := range []string{
		MethodAddMedicine, MethodUpdateMedicineStage, MethodMedicineCounter,
		MethodGetMedicineStage, MethodGetFullMedicineHistory,
	} {
		if _, ok := parsed.Methods[method]; !ok {
			return abi.ABI{}, utils.NewAppError(utils.ErrCodeConfiguration, "Contract ABI is missing a method", method)
		}
	}
	return parsed, nil
}

// DecodeUint reads a single uint256 result as uint64
func DecodeUint(out []interface{}) (uint64, error) {
	if len(out) != 1 {
		return 0, fmt.Errorf("expected 1 result, got %d", len(out))
	}
	value, ok := out[0].(*big.Int)
	if !ok || value == nil {
		return 0, fmt.Errorf("unexpected result type %T", out[0])
	}
	if !value.IsUint64() {
		return 0, fmt.Errorf("result %s overflows uint64", value)
	}
	return value.Uint64(), nil
}

// DecodeString reads a single string result
func DecodeString(out []interface{}) (string, error) {
	if len(out) != 1 {
		return "", fmt.Errorf("expected 1 result, got %d", len(out))
	}
	value, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("unexpected result type %T", out[0])
	}
	return value, nil
}

// DecodeHistory reads the tuple array returned by getFullMedicineHistory
func DecodeHistory(out []interface{}) (records []HistoryRecord, err error) {
	if len(out) != 1 {
		return nil, fmt.Errorf("expected 1 result, got %d", len(out))
	}
	if typed, ok := out[0].([]HistoryRecord); ok {
		return typed, nil
	}

	// abi.ConvertType panics on shapes it cannot convert
	defer func() {
		if r := recover(); r != nil {
			records, err = nil, fmt.Errorf("unexpected history shape %T", out[0])
		}
	}()
	converted := abi.ConvertType(out[0], new([]HistoryRecord)).(*[]HistoryRecord)
	return *converted, nil
}
