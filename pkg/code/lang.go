package code

import "errors"

// lang English and Chinese message pair
// lang 英文与中文消息
type lang struct {
	en   string
	zhCN string
}

const (
	LangEN   = "en"
	LangZhCN = "zh-cn"
)

var lng = LangEN

// GetMessage message in the global language, falling back to English
// GetMessage 返回全局语言对应的消息，缺省回退为英文
func (l lang) GetMessage() string {
	if lng == LangZhCN && l.zhCN != "" {
		return l.zhCN
	}
	return l.en
}

// SetGlobalDefaultLang sets the global language
// SetGlobalDefaultLang 设置全局语言
func SetGlobalDefaultLang(language string) error {
	switch language {
	case LangEN, LangZhCN:
		lng = language
		return nil
	}
	lng = LangEN
	return errors.New("unsupported language, defaulting to " + LangEN)
}

// GetGlobalDefaultLang current global language
func GetGlobalDefaultLang() string {
	return lng
}
