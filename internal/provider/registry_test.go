package provider_test

import (
	"strings"
	"testing"

	"github.com/kamesh6592-cell/v0-clone/internal/domain"
	"github.com/kamesh6592-cell/v0-clone/internal/provider"
	"github.com/kamesh6592-cell/v0-clone/internal/provider/providertest"
)

func TestRegistry_Ordered(t *testing.T) {
	r, err := provider.NewRegistry(
		&providertest.Fake{Provider: domain.ProviderDeepSeek},
		&providertest.Fake{Provider: domain.ProviderV0, HasKey: true},
		&providertest.Fake{Provider: domain.ProviderClaude},
	)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	var got []string
	for _, a := range r.Ordered() {
		got = append(got, string(a.ID()))
	}
	if strings.Join(got, ",") != "v0,claude,deepseek" {
		t.Errorf("Ordered() = %v", got)
	}

	if !r.Configured(domain.ProviderV0) {
		t.Error("v0 should be configured")
	}
	if r.Configured(domain.ProviderClaude) || r.Configured(domain.ProviderGrok) {
		t.Error("claude and grok should not be configured")
	}
}

func TestRegistry_Duplicate(t *testing.T) {
	_, err := provider.NewRegistry(
		&providertest.Fake{Provider: domain.ProviderGrok},
		&providertest.Fake{Provider: domain.ProviderGrok},
	)
	if err == nil {
		t.Fatal("NewRegistry() expected duplicate error")
	}
}

func TestUserPrompt(t *testing.T) {
	req := &domain.ChatRequest{Message: "build a navbar"}
	if got := provider.UserPrompt(req); got != "build a navbar" {
		t.Errorf("UserPrompt() = %q", got)
	}

	req.Attachments = []domain.Attachment{{URL: "https://x.test/logo.png"}}
	got := provider.UserPrompt(req)
	if !strings.HasPrefix(got, "build a navbar") || !strings.Contains(got, "- https://x.test/logo.png") {
		t.Errorf("UserPrompt() = %q", got)
	}
}

func TestNewResult(t *testing.T) {
	req := &domain.ChatRequest{Message: "build a button"}
	id := provider.ChatID(domain.ProviderGrok, req)
	if !strings.HasPrefix(id, "grok-") {
		t.Errorf("ChatID() = %q", id)
	}

	res := provider.NewResult(domain.ProviderGrok, req, id, "<Button/>")
	if len(res.Messages) != 2 {
		t.Fatalf("got %d messages", len(res.Messages))
	}
	if res.Messages[0].Role != domain.RoleUser || res.Messages[0].Content != "build a button" {
		t.Errorf("first message = %+v", res.Messages[0])
	}
	if res.Messages[1].Role != domain.RoleAssistant || res.Messages[1].Content != "<Button/>" {
		t.Errorf("second message = %+v", res.Messages[1])
	}
	if res.Demo != nil {
		t.Errorf("Demo = %v, want nil", *res.Demo)
	}

	req.ChatID = "existing"
	if got := provider.ChatID(domain.ProviderGrok, req); got != "existing" {
		t.Errorf("ChatID() = %q, want existing", got)
	}
}
