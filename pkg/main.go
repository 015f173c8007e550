package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	pkg "github.com/tutorlink/calling/pkg/internal"
	"github.com/tutorlink/calling/pkg/internal/endpoint"
	"github.com/tutorlink/calling/pkg/internal/models"
	"github.com/tutorlink/calling/pkg/internal/services"
	"github.com/tutorlink/calling/pkg/internal/video"
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
}

func main() {
	// Configure settings
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.SetConfigName("settings")
	viper.SetConfigType("toml")

	// Load settings
	if err := viper.ReadInConfig(); err != nil {
		log.Panic().Err(err).Msg("An error occurred when loading settings.")
	}

	client := endpoint.NewClientFromConfig()

	account := models.Account{
		ID:   viper.GetString("endpoint.user_id"),
		Name: viper.GetString("endpoint.user_name"),
		Role: models.Role(viper.GetString("endpoint.user_role")),
	}
	if username := viper.GetString("endpoint.username"); username != "" {
		user, err := client.Login(context.Background(), username, viper.GetString("endpoint.password"))
		if err != nil {
			log.Fatal().Err(err).Msg("An error occurred when signing in.")
		}
		account = *user
	}

	controller := services.NewController(services.Options{
		API:       client,
		Bridge:    video.NewLiveKitBridgeFromConfig(),
		Notifier:  consoleNotifier{},
		Account:   account,
		TeacherID: viper.GetString("calling.teacher_id"),
		OnChange:  renderSnapshot,
	})

	go controller.Mount(context.Background())

	log.Info().Msgf("Calling v%s is started...", pkg.AppVersion)
	go readCommands(controller)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msgf("Calling v%s is quitting...", pkg.AppVersion)

	controller.Unmount()
}

func readCommands(controller *services.Controller) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "start":
			go func() {
				if err := controller.StartCall(); err != nil {
					log.Warn().Err(err).Msg("Unable to start the call.")
				}
			}()
		case "end":
			controller.EndCall()
		case "retry":
			controller.RetryVideo()
		case "status":
			renderSnapshot(controller.Snapshot())
		case "quit":
			controller.Unmount()
			os.Exit(0)
		case "":
		default:
			fmt.Println("commands: start, end, retry, status, quit")
		}
	}
}

var (
	stateColor = map[models.SessionState]*color.Color{
		models.StateLoading:    color.New(color.FgHiBlack),
		models.StateIdle:       color.New(color.FgGreen),
		models.StateConnecting: color.New(color.FgYellow),
		models.StateActive:     color.New(color.FgCyan),
		models.StateEnded:      color.New(color.FgMagenta),
	}
	lowBalance = color.New(color.FgRed, color.Bold)
)

func renderSnapshot(snap services.Snapshot) {
	paint := stateColor[snap.State]

	switch snap.State {
	case models.StateLoading:
		paint.Println("Checking for an existing call...")
	case models.StateIdle:
		paint.Println("Ready to call.")
		if snap.LastError != "" {
			color.Red("  %s", snap.LastError)
		}
	case models.StateConnecting:
		paint.Println("Connecting...")
	case models.StateActive:
		name := snap.Call.Counterparty.DisplayName
		line := fmt.Sprintf("In call with %s  [%s]", name, models.FormatDuration(snap.ElapsedSeconds))
		if snap.Terminating {
			line += "  (ending...)"
		}
		paint.Println(line)
		if snap.Subscription != nil {
			remaining := snap.Subscription.SecondsRemaining
			if remaining < 300 {
				lowBalance.Printf("  Sub: %s\n", models.FormatDuration(remaining))
			} else {
				color.Yellow("  Sub: %s", models.FormatDuration(remaining))
			}
		}
		if snap.VideoUnavailable {
			color.Red("  Video unavailable, type 'retry' to rejoin.")
		}
	case models.StateEnded:
		paint.Printf("Call Ended. Duration: %s\n", models.FormatDuration(snap.ElapsedSeconds))
		if snap.EndReason != "" {
			fmt.Printf("  %s\n", snap.EndReason)
		}
	}
}

type consoleNotifier struct{}

func (consoleNotifier) Success(message string) {
	color.Green("✓ %s", message)
}

func (consoleNotifier) Error(message string) {
	color.Red("✗ %s", message)
}
