package draft

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/halcyonwood/inkwell/internal/db"
	"github.com/halcyonwood/inkwell/internal/roleplay"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:draft_%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func seedDraftJob(t *testing.T, gdb *gorm.DB, request string) (*roleplay.Repo, *roleplay.DraftJob) {
	t.Helper()
	repo := roleplay.NewRepo(gdb)
	ctx := context.Background()

	user := &roleplay.User{Email: "a@b.c", Username: "ab", PasswordHash: "x"}
	if err := gdb.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	conn := &roleplay.Connection{UserID: user.ID, Name: "local", Type: roleplay.BackendOpenAI, BaseURL: "http://127.0.0.1:1"}
	if err := gdb.Create(conn).Error; err != nil {
		t.Fatalf("create connection: %v", err)
	}
	if err := gdb.Model(user).Update("active_connection_id", conn.ID).Error; err != nil {
		t.Fatalf("set active connection: %v", err)
	}

	chat := &roleplay.Chat{
		ChatID:        "chat01",
		UserID:        user.ID,
		Type:          roleplay.ChatTypeAssistant,
		ReplyStrategy: roleplay.ReplyManual,
	}
	if err := repo.CreateChat(ctx, chat); err != nil {
		t.Fatalf("create chat: %v", err)
	}

	job := &roleplay.DraftJob{
		ID:      "01JDRAFTJOBTESTID000000000",
		UserID:  user.ID,
		ChatID:  chat.ChatID,
		Request: request,
		Status:  roleplay.JobQueued,
	}
	if err := repo.CreateDraftJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return repo, job
}

func useCompleter(s *Service, comp Completer) {
	s.newCompleter = func(*roleplay.GenerationSettings) Completer { return comp }
}

func TestRunJobSucceedsAndPersistsDraft(t *testing.T) {
	gdb := openTestDB(t)
	repo, job := seedDraftJob(t, gdb, "a mapmaker")
	ctx := context.Background()

	svc := NewService(repo, nil, nil, 3)
	useCompleter(svc, &scriptedCompleter{respond: func(prompt string) (string, error) {
		if strings.Contains(prompt, "Invent a fitting name") {
			return "Vex", nil
		}
		return goodDescription, nil
	}})

	if err := svc.RunJob(ctx, job.ID); err != nil {
		t.Fatalf("RunJob: %v", err)
	}

	got, err := repo.GetDraftJobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if got.Status != roleplay.JobSucceeded {
		t.Fatalf("status = %q, want succeeded (error: %v)", got.Status, got.Error)
	}

	chat, err := repo.GetChatByChatID(ctx, job.ChatID)
	if err != nil {
		t.Fatalf("reload chat: %v", err)
	}
	md, err := roleplay.DecodeChatMetadata(chat.Metadata)
	if err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if md.Draft == nil || md.Draft.Name != "Vex" {
		t.Fatalf("draft = %+v", md.Draft)
	}
}

func TestRunJobValidationFailureKeepsPartialDraft(t *testing.T) {
	gdb := openTestDB(t)
	repo, job := seedDraftJob(t, gdb, "a mapmaker")
	ctx := context.Background()

	svc := NewService(repo, nil, nil, 2)
	useCompleter(svc, &scriptedCompleter{respond: func(prompt string) (string, error) {
		if strings.Contains(prompt, "Invent a fitting name") {
			return "Vex", nil
		}
		// description stays under the length floor on every attempt
		return "too short", nil
	}})

	if err := svc.RunJob(ctx, job.ID); err != nil {
		t.Fatalf("a validation failure is not a job error: %v", err)
	}

	got, _ := repo.GetDraftJobByID(ctx, job.ID)
	if got.Status != roleplay.JobFailed || got.Error == nil {
		t.Fatalf("job = %+v, want failed with an error message", got)
	}

	chat, _ := repo.GetChatByChatID(ctx, job.ChatID)
	md, err := roleplay.DecodeChatMetadata(chat.Metadata)
	if err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if md.Draft == nil || md.Draft.Name != "Vex" || md.Draft.Description != "too short" {
		t.Fatalf("partial draft must survive a failed job, got %+v", md.Draft)
	}
}

func TestRunJobResumesExistingDraft(t *testing.T) {
	gdb := openTestDB(t)
	repo, job := seedDraftJob(t, gdb, "a mapmaker")
	ctx := context.Background()

	md := roleplay.ChatMetadata{Draft: &roleplay.DraftState{Name: "Vex", Description: goodDescription}}
	raw, err := roleplay.EncodeChatMetadata(md)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := repo.UpdateChatMetadata(ctx, job.ChatID, raw); err != nil {
		t.Fatalf("seed metadata: %v", err)
	}
	if err := gdb.Model(&roleplay.DraftJob{}).Where("id = ?", job.ID).
		Update("requested_fields", datatypes.JSON(`["scenario"]`)).Error; err != nil {
		t.Fatalf("set requested fields: %v", err)
	}

	calls := 0
	svc := NewService(repo, nil, nil, 3)
	useCompleter(svc, &scriptedCompleter{respond: func(prompt string) (string, error) {
		calls++
		if !strings.Contains(prompt, "scenario the character exists in") {
			return "", fmt.Errorf("unexpected prompt:\n%s", prompt)
		}
		return "A drowned coastline where maps rot faster than they are drawn.", nil
	}})

	if err := svc.RunJob(ctx, job.ID); err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if calls != 1 {
		t.Fatalf("completer called %d times, want 1 (populated fields skipped)", calls)
	}

	chat, _ := repo.GetChatByChatID(ctx, job.ChatID)
	out, _ := roleplay.DecodeChatMetadata(chat.Metadata)
	if out.Draft.Name != "Vex" || out.Draft.Scenario == "" {
		t.Fatalf("draft = %+v", out.Draft)
	}
}

func TestRunJobUnknownID(t *testing.T) {
	gdb := openTestDB(t)
	repo := roleplay.NewRepo(gdb)

	svc := NewService(repo, nil, nil, 3)
	if err := svc.RunJob(context.Background(), "missing"); err == nil {
		t.Fatal("expected an error for an unknown job id")
	}
}
