package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Verifier 口令摘要计算与校验
//
// bcrypt 比较是刻意昂贵的 CPU 操作，调用方（service 层）负责把
// Verify 派发到工作池执行，不要在请求协程上直接调用。
type Verifier struct {
	cost int
}

// NewVerifier 创建口令校验器
//
// cost 超出 bcrypt 允许区间时回退到默认代价因子。
func NewVerifier(cost int) *Verifier {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Verifier{cost: cost}
}

// Digest 计算口令的 bcrypt 摘要（含随机盐）
func (v *Verifier) Digest(passphrase string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(passphrase), v.cost)
	if err != nil {
		return "", fmt.Errorf("failed to digest passphrase: %w", err)
	}
	return string(hash), nil
}

// Verify 检查明文口令与摘要是否匹配。
// bcrypt 内部比较为常量时间，不泄露失配位置。
func (v *Verifier) Verify(digest, passphrase string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(passphrase))
	return err == nil
}
