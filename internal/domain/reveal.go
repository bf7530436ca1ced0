package domain

import "time"

// RevealOutcome 揭示门控的判定结果
type RevealOutcome int

const (
	RevealNotFound          RevealOutcome = iota // 胶囊不存在
	RevealLocked                                 // 锁定且未提供口令
	RevealInvalidPassphrase                      // 锁定且口令校验失败
	RevealUnlocked                               // 锁定且口令校验通过（仅本次请求有效）
	RevealNotRevealed                            // 未锁定但尚未到揭示时刻
	RevealAvailable                              // 未锁定且已到揭示时刻
)

// String 返回结果的稳定标签（用于日志与指标）
func (o RevealOutcome) String() string {
	switch o {
	case RevealNotFound:
		return "not_found"
	case RevealLocked:
		return "locked"
	case RevealInvalidPassphrase:
		return "invalid_passphrase"
	case RevealUnlocked:
		return "unlocked"
	case RevealNotRevealed:
		return "not_revealed"
	case RevealAvailable:
		return "available"
	default:
		return "unknown"
	}
}

// Visible 报告该结果下封存内容是否可见
func (o RevealOutcome) Visible() bool {
	return o == RevealAvailable || o == RevealUnlocked
}

// VerifyFunc 校验明文口令与存储摘要是否匹配。
// 实际实现是昂贵的 bcrypt 比较，由调用方在工作池中执行后注入结果，
// 门控本身保持纯函数。
type VerifyFunc func(digest, passphrase string) bool

// EvaluateReveal 判定一次胶囊读取的可见性
//
// 规则：
//   - 胶囊不存在 → RevealNotFound
//   - 锁定胶囊优先于时间门控：无论是否到达揭示时刻，
//     未提供口令一律 RevealLocked；提供口令则按校验结果
//     返回 RevealUnlocked 或 RevealInvalidPassphrase。
//     校验通过不会改变任何持久状态，下一次不带口令的读取仍是 RevealLocked。
//   - 未锁定胶囊按时间判定：now 早于 RevealAt → RevealNotRevealed，
//     否则（含恰好相等）→ RevealAvailable。
//
// 函数不访问存储、不修改胶囊，时间与校验逻辑均由参数注入。
func EvaluateReveal(c *Capsule, now time.Time, passphrase *string, verify VerifyFunc) RevealOutcome {
	if c == nil {
		return RevealNotFound
	}

	if c.IsLocked {
		if passphrase == nil {
			return RevealLocked
		}
		if c.PassphraseDigest == nil || verify == nil {
			// 锁定态与摘要不一致只可能来自存储污染，按锁定处理
			return RevealLocked
		}
		if verify(*c.PassphraseDigest, *passphrase) {
			return RevealUnlocked
		}
		return RevealInvalidPassphrase
	}

	if now.UTC().Before(c.RevealAt) {
		return RevealNotRevealed
	}
	return RevealAvailable
}
