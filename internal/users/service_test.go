package users

import (
	"context"
	"fmt"
	"testing"
	"time"

	githubsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:users_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(githubsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func TestEnsureCreatesProfileOnce(t *testing.T) {
	service, err := NewService(ServiceConfig{Database: newTestDatabase(t)})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	first, err := service.Ensure(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected ensure error: %v", err)
	}
	if first.TotalPoints != 0 || first.Level != 1 {
		t.Fatalf("unexpected fresh profile: %#v", first)
	}

	if _, err := service.AwardPoints(context.Background(), "user-1", 40); err != nil {
		t.Fatalf("unexpected award error: %v", err)
	}

	again, err := service.Ensure(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected ensure error: %v", err)
	}
	if again.TotalPoints != 40 {
		t.Fatalf("ensure must not reset an existing profile, got %d points", again.TotalPoints)
	}
}

func TestEnsureRejectsBlankIdentifier(t *testing.T) {
	service, err := NewService(ServiceConfig{Database: newTestDatabase(t)})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, err := service.Ensure(context.Background(), "   "); err == nil {
		t.Fatalf("expected error for blank identifier")
	}
}

func TestAwardPointsRecomputesLevel(t *testing.T) {
	service, err := NewService(ServiceConfig{Database: newTestDatabase(t)})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, err := service.Ensure(context.Background(), "user-2"); err != nil {
		t.Fatalf("unexpected ensure error: %v", err)
	}

	user, err := service.AwardPoints(context.Background(), "user-2", 250)
	if err != nil {
		t.Fatalf("unexpected award error: %v", err)
	}
	if user.TotalPoints != 250 {
		t.Fatalf("expected 250 points, got %d", user.TotalPoints)
	}
	if user.Level != 3 {
		t.Fatalf("expected level 3 from default rule, got %d", user.Level)
	}

	if _, err := service.AwardPoints(context.Background(), "user-2", -5); err == nil {
		t.Fatalf("expected error for negative award")
	}
}

func TestRecordSpinStampsLastSpin(t *testing.T) {
	service, err := NewService(ServiceConfig{Database: newTestDatabase(t)})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, err := service.Ensure(context.Background(), "user-3"); err != nil {
		t.Fatalf("unexpected ensure error: %v", err)
	}

	moment := time.Date(2026, time.April, 2, 9, 30, 0, 0, time.UTC)
	if err := service.RecordSpin(context.Background(), "user-3", moment); err != nil {
		t.Fatalf("unexpected record error: %v", err)
	}

	user, err := service.Get(context.Background(), "user-3")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if user.LastSpinAt == nil || !user.LastSpinAt.Equal(moment) {
		t.Fatalf("unexpected last spin timestamp: %v", user.LastSpinAt)
	}

	if err := service.RecordSpin(context.Background(), "missing", moment); err == nil {
		t.Fatalf("expected error for unknown user")
	}
}
