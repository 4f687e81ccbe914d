package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"auditchain/internal/domain"
	cryptoinfra "auditchain/internal/infra/crypto"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var errDBUnavailable = fmt.Errorf("%w: db unavailable", domain.ErrStoreUnavailable)

// jsonNull stands in for an absent state so the state columns stay NOT NULL.
var jsonNull = datatypes.JSON("null")

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
}

func stateToColumn(state json.RawMessage) datatypes.JSON {
	if len(state) == 0 {
		return jsonNull
	}
	return datatypes.JSON(copyBytes(state))
}

// stateFromColumn undoes stateToColumn. jsonb re-renders documents, so the
// value is canonicalized again; corrupt JSON is passed through untouched and
// left for verification to catch.
func stateFromColumn(col datatypes.JSON) json.RawMessage {
	trimmed := strings.TrimSpace(string(col))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	canonical, err := cryptoinfra.CanonicalizeJSON(col)
	if err != nil {
		return json.RawMessage(copyBytes(col))
	}
	return json.RawMessage(canonical)
}

func stringPtrIfNotEmpty(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func copyBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
