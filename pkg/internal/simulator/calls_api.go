package simulator

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/tutorlink/calling/pkg/internal/models"
)

// callSessionFor renders the session from the caller's perspective: the
// counterparty and the room token are both caller-specific.
func (s *Server) callSessionFor(user models.Account, sess *ActiveSession) models.CallSession {
	other := s.store.CounterpartyOf(user.ID, sess)

	token, err := EncodeRoomToken(user, sess.RoomName)
	if err != nil {
		log.Error().Err(err).Msg("An error occurred when encoding the room token.")
	}

	return models.CallSession{
		ID:        sess.ID,
		RoomToken: token,
		Counterparty: models.Counterparty{
			ID:          other.ID,
			DisplayName: other.Name,
		},
		StartedAt:      sess.StartedAt,
		ElapsedSeconds: s.store.Elapsed(sess),
	}
}

func (s *Server) getActiveCall(c *fiber.Ctx) error {
	user := currentUser(c)

	sess, ok := s.store.Active(user.ID)
	if !ok {
		return c.JSON(models.ActiveCall{HasActiveCall: false})
	}

	call := s.callSessionFor(user, sess)
	return c.JSON(models.ActiveCall{
		HasActiveCall: true,
		Call:          &call,
		Video: &models.VideoRoomInfo{
			RoomName: sess.RoomName,
			UserName: user.Name,
			Domain:   viper.GetString("calling.endpoint"),
		},
	})
}

func (s *Server) startCall(c *fiber.Ctx) error {
	user := currentUser(c)

	var data struct {
		TeacherID string `json:"teacher_id" validate:"required"`
	}
	if err := BindAndValidate(c, &data); err != nil {
		return err
	}

	sess, err := s.store.StartCall(user.ID, data.TeacherID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	call := s.callSessionFor(user, sess)
	return c.JSON(fiber.Map{"call": call})
}

func (s *Server) heartbeat(c *fiber.Ctx) error {
	user := currentUser(c)

	remaining, err := s.store.Heartbeat(user.ID)
	if err != nil {
		if errors.Is(err, ErrNoActiveCall) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	return c.JSON(models.HeartbeatResult{SubscriptionSecondsRemaining: remaining})
}

func (s *Server) endCall(c *fiber.Ctx) error {
	user := currentUser(c)

	sess, duration, err := s.store.EndCall(user.ID, "user")
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	call := s.callSessionFor(user, sess)
	call.ElapsedSeconds = duration
	return c.JSON(models.CallEndResult{
		Call:            &call,
		DurationSeconds: duration,
	})
}

func (s *Server) getCallHistory(c *fiber.Ctx) error {
	user := currentUser(c)
	page := c.QueryInt("page", 1)

	recs, pages, err := s.archive.List(user.ID, page)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(fiber.Map{
		"calls":       recs,
		"page":        page,
		"total_pages": pages,
	})
}
