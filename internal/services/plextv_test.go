package services

import (
	"context"
	"errors"
	"testing"

	"github.com/desertthunder/wsx/internal/shared"
	tu "github.com/desertthunder/wsx/internal/testing"
)

func TestPlexTV(t *testing.T) {
	ctx := context.Background()

	newFake := func(t *testing.T) *tu.FakePlexTV {
		fake := tu.NewFakePlexTV(t, tu.FakeAccount{ID: 1, Username: "owner", Email: "owner@example.com", Token: "owner-token"})
		fake.Friends = []tu.FakeAccount{
			{ID: 2, Username: "zoe", Email: "zoe@example.com"},
			{ID: 3, Username: "", Email: "", Title: "Kids"},
		}
		fake.Home = []tu.FakeAccount{
			{ID: 3, Title: "Kids"},
			{ID: 4, Username: "", Email: "adam@example.com"},
		}
		fake.ServerTokens[2] = "zoe-token"
		fake.ServerTokens[3] = "kids-token"
		return fake
	}

	t.Run("Owner", func(t *testing.T) {
		fake := newFake(t)
		tv := NewPlexTV(fake.URL, "owner-token", newTestTransport(nil), nil)

		owner, err := tv.Owner(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !owner.Owner || owner.Token != "owner-token" || owner.Name() != "owner" {
			t.Errorf("unexpected owner %+v", owner)
		}
	})

	t.Run("Users Merges And Deduplicates", func(t *testing.T) {
		fake := newFake(t)
		tv := NewPlexTV(fake.URL, "owner-token", newTestTransport(nil), nil)

		users, err := tv.Users(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		var names []string
		for _, u := range users {
			names = append(names, u.Name())
		}
		want := []string{"adam@example.com", "Kids", "zoe"}
		if len(names) != len(want) {
			t.Fatalf("expected %v, got %v", want, names)
		}
		for i := range want {
			if names[i] != want[i] {
				t.Errorf("expected %v, got %v", want, names)
				break
			}
		}
	})

	t.Run("ServerTokens", func(t *testing.T) {
		fake := newFake(t)
		tv := NewPlexTV(fake.URL, "owner-token", newTestTransport(nil), nil)

		tokens, err := tv.ServerTokens(ctx, "machine")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if tokens[2] != "zoe-token" || tokens[3] != "kids-token" || len(tokens) != 2 {
			t.Errorf("unexpected tokens %v", tokens)
		}
	})

	t.Run("Bad Token", func(t *testing.T) {
		fake := newFake(t)
		tv := NewPlexTV(fake.URL, "wrong", newTestTransport(nil), nil)

		if _, err := tv.Owner(ctx); !errors.Is(err, shared.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("Default URL", func(t *testing.T) {
		tv := NewPlexTV("", "tok", nil, nil)
		if tv.baseURL != defaultPlexTVURL {
			t.Errorf("expected %s, got %s", defaultPlexTVURL, tv.baseURL)
		}
	})
}
