package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"tabletop-backend/internal/auth"
	"tabletop-backend/internal/model"
)

// AuthHandler 인증 핸들러
type AuthHandler struct {
	db         *gorm.DB
	jwtManager *auth.JWTManager
}

// NewAuthHandler AuthHandler 생성
func NewAuthHandler(db *gorm.DB, jwtManager *auth.JWTManager) *AuthHandler {
	return &AuthHandler{
		db:         db,
		jwtManager: jwtManager,
	}
}

// LoginRequest 로그인 요청 (닉네임 기반, 비밀번호 없음)
type LoginRequest struct {
	DisplayName string `json:"displayName"`
}

// AuthResponse 인증 응답
type AuthResponse struct {
	User        UserResponse `json:"user"`
	AccessToken string       `json:"accessToken"`
	ExpiresIn   int64        `json:"expiresIn"`
}

// UserResponse 사용자 응답
type UserResponse struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"displayName"`
}

const maxDisplayNameLen = 32

// Login 닉네임으로 로그인 (없으면 생성)
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "displayName is required",
		})
	}
	if len(name) > maxDisplayNameLen {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "displayName is too long",
		})
	}

	// 사용자 조회 또는 생성
	var user model.User
	result := h.db.Where("display_name = ?", name).First(&user)

	if result.Error == gorm.ErrRecordNotFound {
		user = model.User{DisplayName: name}
		if err := h.db.Create(&user).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to create user",
			})
		}
	} else if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "database error",
		})
	}

	// JWT 토큰 생성
	accessToken, err := h.jwtManager.GenerateToken(user.ID, user.DisplayName)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate token",
		})
	}

	return c.JSON(AuthResponse{
		User: UserResponse{
			ID:          user.ID,
			DisplayName: user.DisplayName,
		},
		AccessToken: accessToken,
		ExpiresIn:   int64(h.jwtManager.Expiry().Seconds()),
	})
}

// GetMe 현재 사용자 정보
func (h *AuthHandler) GetMe(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)

	var user model.User
	if err := h.db.First(&user, "id = ?", claims.UserID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "user not found",
		})
	}

	return c.JSON(UserResponse{
		ID:          user.ID,
		DisplayName: user.DisplayName,
	})
}
