package conversation

import (
	"context"
	"sync"
)

// Controller 持有当前进行中操作的取消函数。替换即取消上一个操作。
type Controller struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64
}

// Replace 取消上一个操作并返回新的上下文。release 仅在该上下文仍为当前
// 操作时清理控制器。
func (c *Controller) Replace(parent context.Context) (ctx context.Context, release func()) {
	ctx, cancel := context.WithCancel(parent)

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = cancel
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	release = func() {
		c.mu.Lock()
		if c.gen == gen {
			c.cancel = nil
		}
		c.mu.Unlock()
		cancel()
	}
	return ctx, release
}

// Abort 取消当前操作。
func (c *Controller) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Active 判断是否存在进行中的操作。
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}
