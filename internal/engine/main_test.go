package engine

import (
	"os"
	"testing"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Initialize("fatal")
	os.Exit(m.Run())
}
