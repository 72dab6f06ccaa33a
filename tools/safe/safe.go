package safe

import (
	"github.com/ashik1291/customer-support-live-chat-system/logger"
)

// Go starts a goroutine that recovers from panics, so a background worker
// cannot crash the whole process.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe] panic recovered: %v", r)
			}
		}()
		f()
	}()
}
