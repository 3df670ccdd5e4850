package resolver

import (
	"fmt"
	"strings"
)

// UnsatisfiedDependencyError 汇总整个解析循环结束后仍未满足的全部依赖。
type UnsatisfiedDependencyError struct {
	Missing []string
}

func (e *UnsatisfiedDependencyError) Error() string {
	return fmt.Sprintf("%d unresolved dependencies: %s", len(e.Missing), strings.Join(e.Missing, "; "))
}
