package model

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix returns "<module>_<uuid>", used for task and dead-letter ids.
func GenerateUUIDWithSuffix(module string) string {
	return fmt.Sprintf("%s_%s", module, uuid.New().String())
}
