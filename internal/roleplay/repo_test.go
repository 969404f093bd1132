package roleplay_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/halcyonwood/inkwell/internal/db"
	"github.com/halcyonwood/inkwell/internal/roleplay"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func seedChat(t *testing.T, repo *roleplay.Repo, userID uint64, chatID string) *roleplay.Chat {
	t.Helper()
	chat := &roleplay.Chat{
		ChatID:        chatID,
		UserID:        userID,
		Type:          roleplay.ChatTypeRoleplay,
		ReplyStrategy: roleplay.ReplyNatural,
	}
	if err := repo.CreateChat(context.Background(), chat); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return chat
}

func TestAddRemoveCharacterSyncsGroupFlag(t *testing.T) {
	gdb := openTestDB(t)
	repo := roleplay.NewRepo(gdb)
	ctx := context.Background()
	seedChat(t, repo, 1, "chat01")

	isGroup := func() bool {
		var chat roleplay.Chat
		if err := gdb.Where("chat_id = ?", "chat01").First(&chat).Error; err != nil {
			t.Fatalf("reload chat: %v", err)
		}
		return chat.IsGroup
	}

	if err := repo.AddCharacter(ctx, &roleplay.ChatCharacter{ChatID: "chat01", CharacterID: 1, IsActive: true, Visibility: roleplay.VisibilityAll}); err != nil {
		t.Fatalf("add first character: %v", err)
	}
	if isGroup() {
		t.Fatal("one character must not flag the chat as group")
	}

	if err := repo.AddCharacter(ctx, &roleplay.ChatCharacter{ChatID: "chat01", CharacterID: 2, Position: 1, IsActive: true, Visibility: roleplay.VisibilityAll}); err != nil {
		t.Fatalf("add second character: %v", err)
	}
	if !isGroup() {
		t.Fatal("two characters must flag the chat as group")
	}

	if err := repo.RemoveCharacter(ctx, "chat01", 2); err != nil {
		t.Fatalf("remove character: %v", err)
	}
	if isGroup() {
		t.Fatal("group flag must clear when the chat drops to one character")
	}

	if err := repo.RemoveCharacter(ctx, "chat01", 99); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("removing an unattached character: err = %v, want record not found", err)
	}
}

func TestActiveGenerationSettings(t *testing.T) {
	gdb := openTestDB(t)
	repo := roleplay.NewRepo(gdb)
	ctx := context.Background()

	user := &roleplay.User{Email: "a@b.c", Username: "ab", PasswordHash: "x"}
	if err := gdb.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	if _, err := repo.ActiveGenerationSettings(ctx, user.ID); !errors.Is(err, roleplay.ErrNoActiveConnection) {
		t.Fatalf("err = %v, want ErrNoActiveConnection", err)
	}

	conn := &roleplay.Connection{UserID: user.ID, Name: "local", Type: roleplay.BackendOpenAI, BaseURL: "http://localhost:1234"}
	if err := gdb.Create(conn).Error; err != nil {
		t.Fatalf("create connection: %v", err)
	}
	if err := gdb.Model(user).Update("active_connection_id", conn.ID).Error; err != nil {
		t.Fatalf("set active connection: %v", err)
	}

	gs, err := repo.ActiveGenerationSettings(ctx, user.ID)
	if err != nil {
		t.Fatalf("ActiveGenerationSettings: %v", err)
	}
	if gs.Connection == nil || gs.Connection.ID != conn.ID {
		t.Fatalf("connection = %+v", gs.Connection)
	}
	// missing configs fall back to usable defaults
	if gs.Context.TokenLimit != 4096 || gs.Context.ThresholdPercent != 0.85 {
		t.Fatalf("default context config = %+v", gs.Context)
	}
	if gs.Sampling == nil || gs.Prompt == nil {
		t.Fatal("sampling and prompt configs must never be nil")
	}

	cc := &roleplay.ContextConfig{UserID: user.ID, Name: "tight", TokenLimit: 512, ThresholdPercent: 0.5}
	if err := gdb.Create(cc).Error; err != nil {
		t.Fatalf("create context config: %v", err)
	}
	if err := gdb.Model(user).Update("active_context_id", cc.ID).Error; err != nil {
		t.Fatalf("set active context: %v", err)
	}
	gs, err = repo.ActiveGenerationSettings(ctx, user.ID)
	if err != nil {
		t.Fatalf("ActiveGenerationSettings: %v", err)
	}
	if gs.Context.TokenLimit != 512 {
		t.Fatalf("token limit = %d, want the active config", gs.Context.TokenLimit)
	}
}

func TestDraftJobStatusTransitions(t *testing.T) {
	gdb := openTestDB(t)
	repo := roleplay.NewRepo(gdb)
	ctx := context.Background()

	job := &roleplay.DraftJob{
		ID:      "01JANEXAMPLEJOBID000000000",
		UserID:  1,
		ChatID:  "chat01",
		Request: "a pirate",
		Status:  roleplay.JobQueued,
	}
	if err := repo.CreateDraftJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	if err := repo.MarkDraftJobRunning(ctx, job.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	got, err := repo.GetDraftJobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != roleplay.JobRunning {
		t.Fatalf("status = %q, want running", got.Status)
	}

	if err := repo.MarkDraftJobFailed(ctx, job.ID, "validation failed"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, _ = repo.GetDraftJobByID(ctx, job.ID)
	if got.Status != roleplay.JobFailed || got.Error == nil || *got.Error != "validation failed" {
		t.Fatalf("job = %+v", got)
	}

	// running is only reachable from queued
	if err := repo.MarkDraftJobRunning(ctx, job.ID); err != nil {
		t.Fatalf("mark running again: %v", err)
	}
	got, _ = repo.GetDraftJobByID(ctx, job.ID)
	if got.Status != roleplay.JobFailed {
		t.Fatalf("status = %q, failed jobs must not restart", got.Status)
	}

	if err := repo.MarkDraftJobSucceeded(ctx, job.ID); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	got, _ = repo.GetDraftJobByID(ctx, job.ID)
	if got.Status != roleplay.JobSucceeded || got.Error != nil {
		t.Fatalf("job = %+v, success must clear the error", got)
	}
}

func TestHasGeneratingMessage(t *testing.T) {
	gdb := openTestDB(t)
	repo := roleplay.NewRepo(gdb)
	ctx := context.Background()
	seedChat(t, repo, 1, "chat01")

	msg := &roleplay.ChatMessage{ChatID: "chat01", Role: roleplay.RoleAssistant, Content: "", IsGenerating: true}
	if err := repo.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("insert: %v", err)
	}

	busy, err := repo.HasGeneratingMessage(ctx, "chat01")
	if err != nil || !busy {
		t.Fatalf("busy = %v, err = %v", busy, err)
	}

	if err := repo.UpdateMessage(ctx, msg.ID, map[string]any{"is_generating": false}); err != nil {
		t.Fatalf("update: %v", err)
	}
	busy, err = repo.HasGeneratingMessage(ctx, "chat01")
	if err != nil || busy {
		t.Fatalf("busy = %v after finalize, err = %v", busy, err)
	}
}

func TestListMessagesPaging(t *testing.T) {
	gdb := openTestDB(t)
	repo := roleplay.NewRepo(gdb)
	ctx := context.Background()
	seedChat(t, repo, 1, "chat01")

	for i := 0; i < 5; i++ {
		if err := repo.InsertMessage(ctx, &roleplay.ChatMessage{
			ChatID:  "chat01",
			Role:    roleplay.RoleUser,
			Content: fmt.Sprintf("m%d", i),
		}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	page, err := repo.ListMessages(ctx, "chat01", 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].Content != "m4" || page[1].Content != "m3" {
		t.Fatalf("first page = %+v, want newest first", page)
	}

	page, err = repo.ListMessages(ctx, "chat01", 2, page[1].ID)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page) != 2 || page[0].Content != "m2" {
		t.Fatalf("second page = %+v", page)
	}
}

func TestDeleteChatCascades(t *testing.T) {
	gdb := openTestDB(t)
	repo := roleplay.NewRepo(gdb)
	ctx := context.Background()
	seedChat(t, repo, 1, "chat01")

	if err := repo.AddCharacter(ctx, &roleplay.ChatCharacter{ChatID: "chat01", CharacterID: 1, IsActive: true, Visibility: roleplay.VisibilityAll}); err != nil {
		t.Fatalf("add character: %v", err)
	}
	if err := repo.InsertMessage(ctx, &roleplay.ChatMessage{ChatID: "chat01", Role: roleplay.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("insert message: %v", err)
	}

	if err := repo.DeleteChat(ctx, 2, "chat01"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("wrong owner delete: err = %v, want record not found", err)
	}
	if err := repo.DeleteChat(ctx, 1, "chat01"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var cnt int64
	gdb.Model(&roleplay.ChatMessage{}).Where("chat_id = ?", "chat01").Count(&cnt)
	if cnt != 0 {
		t.Fatalf("%d messages left after chat delete", cnt)
	}
	gdb.Model(&roleplay.ChatCharacter{}).Where("chat_id = ?", "chat01").Count(&cnt)
	if cnt != 0 {
		t.Fatalf("%d character links left after chat delete", cnt)
	}
}
