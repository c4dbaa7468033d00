package bot

import "strings"

// Command 是解析后的 bot 命令：动词加可选的自由文本参数。
type Command struct {
	Verb string
	Arg  string
}

var knownVerbs = map[string]bool{
	"ping":  true,
	"help":  true,
	"play":  true,
	"stop":  true,
	"next":  true,
	"prev":  true,
	"queue": true,
	"list":  true,
}

// voiceVerbs 需要调用消息携带语音频道上下文（stop 有停靠频道兜底）。
var voiceVerbs = map[string]bool{
	"play":  true,
	"stop":  true,
	"next":  true,
	"prev":  true,
	"queue": true,
	"list":  true,
}

// ParseCommand 识别“前缀 + 动词 + 可选参数”的命令文法。
// 不匹配的内容整体忽略，bot 不理会普通聊天。
func ParseCommand(prefix, content string) (Command, bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, prefix) {
		return Command{}, false
	}
	rest := content[len(prefix):]
	if rest != "" && rest[0] != ' ' {
		// "/titibotxyz" 不是命令
		return Command{}, false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return Command{}, false
	}
	verb := strings.ToLower(fields[0])
	if !knownVerbs[verb] {
		return Command{}, false
	}
	return Command{Verb: verb, Arg: strings.Join(fields[1:], " ")}, true
}

func needsVoice(verb string) bool { return voiceVerbs[verb] }
