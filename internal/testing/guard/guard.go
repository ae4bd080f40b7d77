package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("QUARRYLINE_TEST_MODE") == "" {
			_ = os.Setenv("QUARRYLINE_TEST_MODE", "1")
		}
	})
}
