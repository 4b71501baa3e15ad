package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"copyflow.org/internal/workflow"
)

func TestGenerateAndValidateToken(t *testing.T) {
	t.Setenv("COPYFLOW_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	token, err := GenerateToken("user-42", "Alex Chen", "Content Creator", "org-1", 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Role != "Content Creator" || claims.OrgID != "org-1" {
		t.Fatalf("claims not preserved: %+v", claims)
	}
}

func TestParseAndValidateRejectsGarbage(t *testing.T) {
	t.Setenv("COPYFLOW_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	for _, raw := range []string{"", "   ", "not-a-jwt", "aaa.bbb.ccc"} {
		if _, err := ParseAndValidate(raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("ParseAndValidate(%q): want ErrInvalidToken, got %v", raw, err)
		}
	}
}

func TestGenerateTokenRequiresSecret(t *testing.T) {
	t.Setenv("COPYFLOW_AUTH_SECRET", "")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if _, err := GenerateToken("user-42", "", "", "", time.Minute); err == nil {
		t.Fatal("expected error without configured secret")
	}
}

func TestContextIdentity(t *testing.T) {
	ctx := context.Background()
	if _, ok := IdentityFromContext(ctx); ok {
		t.Fatal("unexpected identity on empty context")
	}
	identity := Identity{UserID: "u-7", Name: "Brenda Starr", Role: workflow.RoleJuniorMarketer, OrgID: "org-9"}
	ctx = ContextWithIdentity(ctx, identity)
	got, ok := IdentityFromContext(ctx)
	if !ok || got != identity {
		t.Fatalf("identity round trip failed: %+v ok=%v", got, ok)
	}
}

func TestEnsureCreatesOnFirstAuth(t *testing.T) {
	store := NewInMemoryUsers()
	users, err := NewUsers(store)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	user, err := users.Ensure(ctx, "uid-1", "Alex Chen", "Alex.C@Example.com")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if user.Role != workflow.RoleContentCreator {
		t.Fatalf("default role = %q, want Content Creator", user.Role)
	}
	if user.OrgID == "" {
		t.Fatal("expected a fresh org id")
	}
	if user.Email != "alex.c@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}

	again, err := users.Ensure(ctx, "uid-1", "Different Name", "other@example.com")
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if again.Name != "Alex Chen" || again.OrgID != user.OrgID {
		t.Fatalf("Ensure must be idempotent, got %+v", again)
	}
}

func TestUpdateRoleRequiresAdmin(t *testing.T) {
	store := NewInMemoryUsers()
	users, _ := NewUsers(store)
	ctx := context.Background()

	member, _ := users.Ensure(ctx, "uid-1", "Alex", "alex@example.com")
	adminUser, _ := users.Ensure(ctx, "uid-2", "Root", "root@example.com")
	adminRole := workflow.RoleAdmin
	if _, err := store.UpdateUser(ctx, adminUser.ID, UserUpdate{Role: &adminRole}); err != nil {
		t.Fatal(err)
	}

	editor := workflow.RoleSeniorEditor
	if _, err := users.Update(ctx, member.Identity(), member.ID, UserUpdate{Role: &editor}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-admin role change: want ErrUnauthorized, got %v", err)
	}

	admin := Identity{UserID: adminUser.ID, Role: workflow.RoleAdmin, OrgID: adminUser.OrgID}
	updated, err := users.Update(ctx, admin, member.ID, UserUpdate{Role: &editor})
	if err != nil {
		t.Fatalf("admin role change: %v", err)
	}
	if updated.Role != workflow.RoleSeniorEditor {
		t.Fatalf("role = %q, want Senior Editor", updated.Role)
	}
}

func TestUpdateNormalizesLegacyRole(t *testing.T) {
	store := NewInMemoryUsers()
	users, _ := NewUsers(store)
	ctx := context.Background()

	member, _ := users.Ensure(ctx, "uid-1", "Alex", "alex@example.com")
	admin := Identity{UserID: "root", Role: workflow.RoleAdmin, OrgID: member.OrgID}

	legacy := workflow.Role("editor")
	updated, err := users.Update(ctx, admin, member.ID, UserUpdate{Role: &legacy})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Role != workflow.RoleSeniorEditor {
		t.Fatalf("legacy role not normalized: %q", updated.Role)
	}
}
