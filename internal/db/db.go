package db

import (
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/halcyonwood/inkwell/internal/roleplay"
)

func Connect(dsn string) *gorm.DB {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	if err := Migrate(gdb); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	return gdb
}

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&roleplay.User{},
		&roleplay.Character{},
		&roleplay.Persona{},
		&roleplay.Lorebook{},
		&roleplay.LoreEntry{},
		&roleplay.Connection{},
		&roleplay.SamplingConfig{},
		&roleplay.ContextConfig{},
		&roleplay.PromptConfig{},
		&roleplay.Chat{},
		&roleplay.ChatCharacter{},
		&roleplay.ChatPersona{},
		&roleplay.ChatLorebook{},
		&roleplay.ChatMessage{},
		&roleplay.DraftJob{},
	)
}
