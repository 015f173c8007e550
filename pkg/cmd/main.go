package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	pkg "github.com/tutorlink/calling/pkg/internal"
	"github.com/tutorlink/calling/pkg/internal/database"
	"github.com/tutorlink/calling/pkg/internal/models"
	"github.com/tutorlink/calling/pkg/internal/simulator"
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

	// Connect to database when a datasource is configured; fall back to the
	// in-memory archive for throwaway runs.
	var archive simulator.Archive = simulator.NewMemoryArchive()
	if viper.GetString("datasource") != "" {
		if err := database.NewSource(); err != nil {
			log.Fatal().Err(err).Msg("An error occurred when connect to database.")
		} else if err := database.RunMigration(database.C); err != nil {
			log.Fatal().Err(err).Msg("An error occurred when running database auto migration.")
		}
		archive = simulator.NewDatabaseArchive(database.C)
	}

	store := simulator.NewStore(clock.New(), archive)
	seedAccounts(store)

	tokens := simulator.NewTokenIssuerFromConfig()
	server := simulator.NewServer(store, archive, tokens)
	go server.Listen()

	// Configure timed tasks
	quartz := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(&log.Logger)))
	quartz.AddFunc("@every 15s", func() {
		store.Sweep(livenessTimeout())
	})
	quartz.Start()

	log.Info().Msgf("Calling simulator v%s is started...", pkg.AppVersion)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msgf("Calling simulator v%s is quitting...", pkg.AppVersion)

	quartz.Stop()
}

func livenessTimeout() time.Duration {
	if secs := viper.GetInt("calling.liveness_timeout"); secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 45 * time.Second
}

// seedAccounts loads the demo accounts declared in settings.toml, so a
// fresh simulator is immediately callable.
func seedAccounts(store *simulator.Store) {
	var seeds []struct {
		ID        string `mapstructure:"id"`
		Name      string `mapstructure:"name"`
		Role      string `mapstructure:"role"`
		Password  string `mapstructure:"password"`
		Available bool   `mapstructure:"available"`
		Balance   int    `mapstructure:"balance"`
	}
	if err := viper.UnmarshalKey("accounts", &seeds); err != nil {
		log.Warn().Err(err).Msg("An error occurred when reading seed accounts.")
		return
	}

	for _, seed := range seeds {
		store.AddAccount(models.Account{
			ID:          seed.ID,
			Name:        seed.Name,
			Role:        models.Role(seed.Role),
			IsAvailable: seed.Available,
		}, seed.Password)
		if seed.Balance > 0 {
			store.SetBalance(seed.ID, seed.Balance)
		}
	}
	log.Info().Int("count", len(seeds)).Msg("Seed accounts loaded.")
}
