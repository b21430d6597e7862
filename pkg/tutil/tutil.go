package tutil

import (
	"os"
	"strings"
)

// IsIntegrationTest is true when TAPEHSM_TEST=integration. Tests that need a real file
// system with user extended attributes only run then.
func IsIntegrationTest() bool {
	testType := os.Getenv("TAPEHSM_TEST")
	return strings.ToLower(testType) == "integration"
}
