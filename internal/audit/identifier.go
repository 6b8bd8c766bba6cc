// File: internal/audit/identifier.go

// Package audit answers history and stage queries straight from the ledger.
package audit

import (
	"context"
	"fmt"
	"strconv"

	"github.com/smartdevs17/medchain-ledger-sync/internal/ledger"
	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

// ParseIdentifier accepts a base-10 non-negative integer and nothing else
func ParseIdentifier(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeInvalidIdentifier, "Medicine id must be a non-negative integer",
			strconv.Quote(raw))
	}
	return id, nil
}

// ensureExists checks id against the ledger's medicine counter. Ids run
// from 1 to the counter.
func ensureExists(ctx context.Context, client ledger.Client, id uint64) error {
	out, err := client.CallReadOnly(ctx, ledger.MethodMedicineCounter)
	if err != nil {
		return unavailable(id, err)
	}
	counter, err := ledger.DecodeUint(out)
	if err != nil {
		return unavailable(id, err)
	}

	if id == 0 || id > counter {
		return utils.NewAppError(utils.ErrCodeNotFound, "Medicine not found on the ledger",
			fmt.Sprintf("medicine %d, ledger holds %d", id, counter))
	}
	return nil
}

func unavailable(id uint64, cause error) error {
	appErr := utils.NewAppError(utils.ErrCodeLedgerUnavailable, "Could not retrieve ledger state",
		fmt.Sprintf("medicine %d: %v", id, cause))
	appErr.Cause = cause
	return appErr
}
