package lock

import (
	"context"

	"github.com/ibkv-project/ibkv/common"
)

func errLockWaitTimeout() error {
	return common.NewError(common.ErrLockWaitTimeout, "lock: wait timed out")
}

func errDeadlock() error {
	return common.NewError(common.ErrDeadlock, "lock: deadlock detected")
}

func ctxInterrupted(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return common.NewError(common.ErrLockWaitTimeout, "lock: wait context deadline exceeded")
	}
	return common.NewError(common.ErrInterrupted, "lock: wait interrupted")
}
