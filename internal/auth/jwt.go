package auth

import (
	"timecapsule/backend/internal/auth/jwt"
	"timecapsule/backend/internal/config"
)

// JWTManager JWT管理器包装
type JWTManager struct {
	manager *jwt.Manager
}

// NewJWTManager 创建JWT管理器
func NewJWTManager(cfg *config.JWTConfig) *JWTManager {
	manager := jwt.NewManager(cfg.Secret, cfg.Issuer, cfg.AccessExpiry, cfg.RefreshExpiry)
	return &JWTManager{manager: manager}
}

// TokenResponse 令牌响应
type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// GenerateTokens 为给定所有者签发令牌对
func (m *JWTManager) GenerateTokens(ownerID string) (*TokenResponse, error) {
	pair, err := m.manager.GenerateTokenPair(ownerID)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

// ValidateToken 验证访问令牌并返回声明
func (m *JWTManager) ValidateToken(tokenString string) (*jwt.Claims, error) {
	return m.manager.ValidateToken(tokenString)
}

// RefreshToken 校验刷新令牌并签发新的令牌对
func (m *JWTManager) RefreshToken(refreshToken string) (*TokenResponse, error) {
	claims, err := m.manager.ValidateToken(refreshToken)
	if err != nil {
		return nil, err
	}
	return m.GenerateTokens(claims.OwnerID)
}
