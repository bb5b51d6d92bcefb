package forward

import (
	"fmt"
	"strings"
)

// Replacement 一条替换规则
type Replacement struct {
	Find    string
	Replace string
}

// Replacements 有序替换规则集合，插入顺序即应用顺序
type Replacements []Replacement

// Set 写入一条规则；find 已存在时保留原位置，覆盖 replace
func (r *Replacements) Set(find, replace string) error {
	if find == "" {
		return ErrEmptyFind
	}
	for i := range *r {
		if (*r)[i].Find == find {
			(*r)[i].Replace = replace
			return nil
		}
	}
	*r = append(*r, Replacement{Find: find, Replace: replace})
	return nil
}

// Clone 复制一份，避免调用方修改共享底层数组
func (r Replacements) Clone() Replacements {
	if len(r) == 0 {
		return nil
	}
	out := make(Replacements, len(r))
	copy(out, r)
	return out
}

// String 用于日志
func (r Replacements) String() string {
	parts := make([]string, 0, len(r))
	for _, p := range r {
		parts = append(parts, fmt.Sprintf("%q->%q", p.Find, p.Replace))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ApplyReplacements 依次做字面量替换，后面的规则作用于前面规则的输出
// 返回替换后的文本以及实际替换的次数
func ApplyReplacements(text string, pairs Replacements) (string, int) {
	if text == "" || len(pairs) == 0 {
		return text, 0
	}

	applied := 0
	for _, p := range pairs {
		if p.Find == "" {
			continue
		}
		n := strings.Count(text, p.Find)
		if n == 0 {
			continue
		}
		text = strings.ReplaceAll(text, p.Find, p.Replace)
		applied += n
	}
	return text, applied
}
