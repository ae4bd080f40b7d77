package main

import (
	"testing"

	_ "github.com/quarryline/quarryline/internal/testing/guard"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	main()
}
