package simulator

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tutorlink/calling/pkg/internal/models"
)

// userInfo is the trimmed account shape returned to clients.
type userInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

func (s *Server) login(c *fiber.Ctx) error {
	var data struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	if err := BindAndValidate(c, &data); err != nil {
		return err
	}

	account, err := s.store.Authenticate(data.Username, data.Password)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	}

	access, refresh, err := s.tokens.IssuePair(account)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	var info userInfo
	models.FitStruct(account, &info)
	return c.JSON(fiber.Map{
		"token":         access,
		"refresh_token": refresh,
		"user":          info,
	})
}

func (s *Server) refreshSession(c *fiber.Ctx) error {
	var data struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}
	if err := BindAndValidate(c, &data); err != nil {
		return err
	}

	userID, err := s.tokens.Verify(data.RefreshToken, tokenTypeRefresh)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	}
	account, ok := s.store.Account(userID)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "account is gone")
	}

	access, refresh, err := s.tokens.IssuePair(account)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"token":         access,
		"refresh_token": refresh,
	})
}
