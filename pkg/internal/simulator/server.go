package simulator

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/tutorlink/calling/pkg/internal/models"
)

// Server is the local stand-in for the tutoring backend: it implements the
// session endpoint contract the client consumes, for development runs and
// for the test harness.
type Server struct {
	App     *fiber.App
	store   *Store
	archive Archive
	tokens  *TokenIssuer
}

func NewServer(store *Store, archive Archive, tokens *TokenIssuer) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ServerHeader:          "Tutorlink.Calling",
		AppName:               "Tutorlink.Calling",
		JSONEncoder:           jsoniter.ConfigCompatibleWithStandardLibrary.Marshal,
		JSONDecoder:           jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(cors.New(cors.Config{
		AllowCredentials: true,
		AllowMethods: strings.Join([]string{
			fiber.MethodGet,
			fiber.MethodPost,
			fiber.MethodHead,
			fiber.MethodOptions,
			fiber.MethodPut,
			fiber.MethodDelete,
			fiber.MethodPatch,
		}, ","),
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
	}))

	app.Use(logger.New(logger.Config{
		Format: "${status} | ${latency} | ${method} ${path}\n",
		Output: log.Logger,
	}))

	s := &Server{App: app, store: store, archive: archive, tokens: tokens}
	s.mapAPIs(app, "/api")

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return s
}

func (s *Server) mapAPIs(app *fiber.App, baseURL string) {
	api := app.Group(baseURL).Name("API")
	{
		auth := api.Group("/auth")
		{
			auth.Post("/login", s.login)
			auth.Post("/refresh", s.refreshSession)
		}

		calls := api.Group("/calls").Use(s.authMiddleware).Name("Calls API")
		{
			calls.Get("/active", s.getActiveCall)
			calls.Get("/history", s.getCallHistory)
			calls.Post("/start", s.startCall)
			calls.Post("/heartbeat", s.heartbeat)
			calls.Post("/end_call", s.endCall)
		}

		tutors := api.Group("/tutors").Use(s.authMiddleware).Name("Tutors API")
		{
			tutors.Get("/", s.listTutors)
			tutors.Patch("/toggle_status", s.toggleTutorStatus)
		}
	}
}

func (s *Server) Listen() {
	if err := s.App.Listen(viper.GetString("bind")); err != nil {
		log.Fatal().Err(err).Msg("An error occurred when starting server...")
	}
}

func (s *Server) authMiddleware(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
	}

	userID, err := s.tokens.Verify(token, tokenTypeAccess)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	}
	account, ok := s.store.Account(userID)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "account is gone")
	}

	c.Locals("user", account)
	return c.Next()
}

func currentUser(c *fiber.Ctx) models.Account {
	return c.Locals("user").(models.Account)
}
