package simulator

import (
	"github.com/gofiber/fiber/v2"
)

func (s *Server) listTutors(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"tutors": s.store.ListTutors()})
}

func (s *Server) toggleTutorStatus(c *fiber.Ctx) error {
	user := currentUser(c)

	available, err := s.store.ToggleTutor(user.ID)
	if err != nil {
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	}
	return c.JSON(fiber.Map{"is_available": available})
}
