package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/deployd/pkg/types"
)

// CheckFunc returns nil while the dependency works
type CheckFunc func(ctx context.Context) error

// FuncChecker turns a CheckFunc into a Checker
type FuncChecker struct {
	checkType CheckType
	target    string
	fn        CheckFunc
}

// NewFuncChecker creates a checker that calls fn against target
func NewFuncChecker(checkType CheckType, target string, fn CheckFunc) *FuncChecker {
	return &FuncChecker{
		checkType: checkType,
		target:    target,
		fn:        fn,
	}
}

// Lister is the part of the store a storage check reads
type Lister interface {
	ListEnvironments() ([]*types.Environment, error)
}

// NewStorageChecker checks that the store still answers reads
func NewStorageChecker(target string, l Lister) *FuncChecker {
	return NewFuncChecker(CheckTypeStorage, target, func(ctx context.Context) error {
		_, err := l.ListEnvironments()
		return err
	})
}

// Pinger is implemented by lock backends that can verify their connection
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRedisChecker checks the redis lock backend
func NewRedisChecker(target string, p Pinger) *FuncChecker {
	return NewFuncChecker(CheckTypeRedis, target, p.Ping)
}

// Check calls the check function
func (c *FuncChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if err := c.fn(ctx); err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("%s check failed: %v", c.checkType, err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("%s %s reachable", c.checkType, c.target),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the check type
func (c *FuncChecker) Type() CheckType {
	return c.checkType
}
