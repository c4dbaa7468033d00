package voice

// Policy 决定当频道里的真人走光之后，bot 是否留在频道。
// 把“还有没有人”与“bot 要不要留下”拆成两个可单测的单元。
type Policy interface {
	ShouldBotRemain(channelID string, humansLeft int) bool
}

// StayPolicy 让 bot 一直停留，离场由编排器通过 stop 命令显式触发。
// 这是默认策略：名册层不替编排器做去留决定。
type StayPolicy struct{}

func (StayPolicy) ShouldBotRemain(channelID string, humansLeft int) bool { return true }

// LeaveWhenEmptyPolicy 在最后一个真人离开时顺带清走 bot。
type LeaveWhenEmptyPolicy struct{}

func (LeaveWhenEmptyPolicy) ShouldBotRemain(channelID string, humansLeft int) bool {
	return humansLeft > 0
}
