// Package clock 提供可注入的时间源，便于过期策略和调度器的确定性测试
package clock

import "time"

// Clock 时间源接口
// 生产环境使用 Real()，测试使用 Fake()
type Clock interface {
	// Now 返回当前时间
	Now() time.Time
	// After 在 d 之后向返回的通道发送当前时间；d <= 0 时立即发送
	After(d time.Duration) <-chan time.Time
}

// Real 返回基于标准库 time 的时间源
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
