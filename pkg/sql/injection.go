package sql

import (
	"fmt"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/pulsebi/pulse-engine/pkg/apperrors"
)

// ScreenParams runs every string parameter value through libinjection before
// a statement executes. Values only ever travel through driver-level
// parameter binding, so this is defense in depth rather than the primary
// control; non-string values cannot carry injection payloads and are not
// checked.
func ScreenParams(params Params) error {
	for name, value := range params {
		text, ok := value.(string)
		if !ok {
			continue
		}
		if isSQLi, fingerprint := libinjection.IsSQLi(text); isSQLi {
			return fmt.Errorf("%w: parameter %q (fingerprint %s)", apperrors.ErrInjectionDetected, name, fingerprint)
		}
	}
	return nil
}
