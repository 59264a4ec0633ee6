package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"nextcompete-api/config"
	"nextcompete-api/models"
	"nextcompete-api/services"
	"nextcompete-api/utils"
)

func main() {
	file := flag.String("file", "", "competition definition (YAML)")
	organizerID := flag.Uint("organizer", 0, "user id of the organizer who will own the competition")
	migrate := flag.Bool("migrate", false, "run schema migration first")
	flag.Parse()

	if *file == "" || *organizerID == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	settings := config.LoadSettings()
	config.InitLogging(settings.IsRelease())
	config.InitDB(settings)
	if *migrate {
		if err := models.AutoMigrate(config.DB); err != nil {
			config.Log.WithError(err).Fatal("database migration failed")
		}
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		config.Log.WithError(err).Fatal("read definition")
	}
	var in services.CompetitionInput
	if err := yaml.Unmarshal(raw, &in); err != nil {
		config.Log.WithError(err).Fatal("parse definition")
	}

	users := services.NewUserService(config.DB)
	organizer, err := users.Get(context.Background(), uint(*organizerID))
	if err != nil {
		config.Log.WithError(err).Fatal("load organizer")
	}
	p := services.Principal{UserID: organizer.UserID, Email: organizer.Email, Name: organizer.Name, RoleID: organizer.RoleID}

	rounds := services.NewRoundCache(config.DB, settings.RoundCacheTTL)
	competitions := services.NewCompetitionService(config.DB, rounds, services.NewNotificationService(config.DB, nil))
	comp, err := competitions.CreateCompetition(context.Background(), p, in)
	if err != nil {
		config.Log.WithError(err).Fatal("create competition")
	}

	fmt.Printf("competition %d %q\n", comp.CompetitionID, comp.Title)
	for _, r := range comp.Rounds {
		fmt.Printf("  round %d %-24s %s -> %s (%s)\n", r.Position, r.Name,
			utils.FormatRoundDate(r.StartDate), utils.FormatRoundDate(r.EndDate), r.Status)
	}
}
