// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package refine

import (
	"testing"

	"go.uber.org/goleak"
)

// Every collector goroutine must be joined before Run returns.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
